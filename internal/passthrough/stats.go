package passthrough

import (
	"fmt"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/passfs/passfs/pkg/types"
)

// StatsCapacity bounds one rendering of the status document.
const StatsCapacity = 2048

// syntheticPath is the only virtual path served from memory.
const syntheticPath = "/" + types.SyntheticName

// synthetic serves the read-only stats file from the transfer counters.
type synthetic struct {
	enabled  bool
	counters types.CounterSource
	uid, gid uint32
	born     Timespec
}

// is reports whether path names the stats file while stats mode is on.
func (s *synthetic) is(path string) bool {
	return s.enabled && path == syntheticPath
}

// render returns a fresh snapshot of the status document.
func (s *synthetic) render() []byte {
	snap := s.counters.Snapshot()
	doc := fmt.Sprintf("Bytes read: %d (%s)\nBytes written: %d (%s)\n",
		snap.BytesRead, humanize.IBytes(snap.BytesRead),
		snap.BytesWritten, humanize.IBytes(snap.BytesWritten))
	if len(doc) > StatsCapacity {
		doc = doc[:StatsCapacity]
	}
	return []byte(doc)
}

func (s *synthetic) getattr(st *Stat) {
	*st = Stat{
		Mode:    syscall.S_IFREG | 0444,
		Nlink:   1,
		Uid:     s.uid,
		Gid:     s.gid,
		Size:    int64(len(s.render())),
		Atim:    s.born,
		Mtim:    s.born,
		Ctim:    s.born,
		Blksize: StatsCapacity,
	}
}

// open admits read-only intent only. The content is regenerated per read,
// so the host must not cache it.
func (s *synthetic) open(fi *OpenInfo) int {
	if fi.Flags&syscall.O_ACCMODE != syscall.O_RDONLY || fi.Flags&syscall.O_TRUNC != 0 {
		return -int(syscall.EACCES)
	}
	fi.Fh = SyntheticHandle
	fi.DirectIo = true
	fi.KeepCache = false
	return 0
}

// read copies [ofst, ofst+len(buff)) of a fresh rendering into buff.
func (s *synthetic) read(buff []byte, ofst int64) int {
	doc := s.render()
	if ofst < 0 || ofst >= int64(len(doc)) {
		return 0
	}
	return copy(buff, doc[ofst:])
}

func (s *synthetic) access(mask uint32) int {
	const wOK, xOK = 0x2, 0x1
	if mask&(wOK|xOK) != 0 {
		return -int(syscall.EACCES)
	}
	return 0
}
