package passthrough

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/passfs/passfs/pkg/types"
)

// Enumerator lists one backing directory for Readdir.
type Enumerator interface {
	// Name identifies the strategy in logs and trace lines.
	Name() string

	// Resumable reports whether the offsets handed to fill are continuation
	// tokens. Non-resumable strategies always report offset 0.
	Resumable() bool

	// Enumerate feeds the entries of dir to fill, starting after the token
	// ofst. done is true when the directory was exhausted rather than cut
	// short by fill.
	Enumerate(dir string, ofst int64, fill FillFunc) (done bool, err error)
}

// NewEnumerator returns the strategy registered under name.
func NewEnumerator(name string) (Enumerator, error) {
	switch name {
	case "", types.ReaddirSequential:
		return Sequential{}, nil
	case types.ReaddirCursor:
		return Cursor{}, nil
	default:
		return nil, fmt.Errorf("unknown readdir strategy %q", name)
	}
}

// readBatch is the number of entries pulled from the stream per call.
const readBatch = 128

// Sequential walks the whole directory on every call and reports offset 0
// for each entry, so the host re-enumerates from the start on resumption.
type Sequential struct{}

// Name implements Enumerator.
func (Sequential) Name() string { return types.ReaddirSequential }

// Resumable implements Enumerator.
func (Sequential) Resumable() bool { return false }

// Enumerate implements Enumerator. ofst is ignored.
func (Sequential) Enumerate(dir string, _ int64, fill FillFunc) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if !fill(".", &Stat{Mode: modeDir}, 0) || !fill("..", &Stat{Mode: modeDir}, 0) {
		return false, nil
	}

	for {
		entries, err := f.ReadDir(readBatch)
		for _, e := range entries {
			if !fill(e.Name(), &Stat{Mode: typeMode(e.Type())}, 0) {
				return false, nil
			}
		}
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

// Cursor resumes listings from the backing stream position: each entry is
// reported with the offset just past it, and a non-zero ofst is replayed
// with a seek before reading.
type Cursor struct{}

// Name implements Enumerator.
func (Cursor) Name() string { return types.ReaddirCursor }

// Resumable implements Enumerator.
func (Cursor) Resumable() bool { return true }

// Enumerate implements Enumerator.
func (Cursor) Enumerate(dir string, ofst int64, fill FillFunc) (bool, error) {
	return enumerateCursor(dir, ofst, fill)
}

const modeDir = 0040000

// typeMode maps directory entry type bits onto the S_IFMT part of a mode.
func typeMode(t fs.FileMode) uint32 {
	switch {
	case t&fs.ModeDir != 0:
		return 0040000
	case t&fs.ModeSymlink != 0:
		return 0120000
	case t&fs.ModeNamedPipe != 0:
		return 0010000
	case t&fs.ModeSocket != 0:
		return 0140000
	case t&fs.ModeCharDevice != 0:
		return 0020000
	case t&fs.ModeDevice != 0:
		return 0060000
	default:
		return 0100000
	}
}
