package types

// IOSnapshot is a point-in-time copy of the transfer counters.
type IOSnapshot struct {
	BytesRead    uint64 `json:"bytes_read" yaml:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written" yaml:"bytes_written"`
}

// Directory enumeration strategies.
const (
	// ReaddirSequential lists a whole directory per call and never resumes.
	ReaddirSequential = "sequential"
	// ReaddirCursor hands out backing stream offsets and resumes from them.
	ReaddirCursor = "cursor"
)

// SyntheticName is the reserved file served at the mount root in stats mode.
const SyntheticName = "stats"
