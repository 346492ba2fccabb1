package passthrough

// Timespec mirrors the FUSE timespec.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// Stat carries file attributes between the dispatcher and the host runtime.
// Field names and widths follow the cgofuse path API.
type Stat struct {
	Dev      uint64
	Ino      uint64
	Mode     uint32
	Nlink    uint32
	Uid      uint32
	Gid      uint32
	Rdev     uint64
	Size     int64
	Atim     Timespec
	Mtim     Timespec
	Ctim     Timespec
	Birthtim Timespec
	Blksize  int64
	Blocks   int64
	Flags    uint32
}

// Statfs carries filesystem statistics.
type Statfs struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Flag    uint64
	Namemax uint64
}

// OpenInfo is the per-open context the host hands to OpenEx and CreateEx.
type OpenInfo struct {
	Flags       int
	Fh          uint64
	DirectIo    bool
	KeepCache   bool
	NonSeekable bool
}

// FillFunc receives one directory entry. st may be nil. Returning false
// means the consumer is full and enumeration must stop.
type FillFunc func(name string, st *Stat, ofst int64) bool

const (
	// NoHandle is the fh value hosts pass when no file handle exists.
	NoHandle = ^uint64(0)

	// SyntheticHandle is the fh returned when the stats file is opened.
	SyntheticHandle = ^uint64(0) - 1

	// PathMax bounds readlink results.
	PathMax = 4096
)
