//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/passfs/passfs/internal/passthrough"
)

// statsOffset is the kernel offset after the synthetic stats entry.
// Continuation tokens are non-negative int64 values, so it never equals one.
const statsOffset = uint64(1) << 63

// DirHandle is an open directory. Entries are fetched from the dispatcher
// lazily and handed to go-fuse one at a time.
//
// With a resumable strategy each entry's offset is the dispatcher's
// continuation token, and Seekdir resumes the listing there. Otherwise the
// offset is the entry's position in the listing, and Seekdir lists again
// from the start and skips that many entries.
type DirHandle struct {
	d         *passthrough.Dispatcher
	path      string
	resumable bool

	mu      sync.Mutex
	fh      uint64
	pending []fuse.DirEntry
	// pos is the token to resume from, or the number of entries already
	// queued when the strategy is not resumable.
	pos    uint64
	loaded bool
}

var (
	_ = (fs.FileReaddirenter)((*DirHandle)(nil))
	_ = (fs.FileSeekdirer)((*DirHandle)(nil))
	_ = (fs.FileReleasedirer)((*DirHandle)(nil))
	_ = (fs.FileFsyncdirer)((*DirHandle)(nil))
)

func newDirHandle(d *passthrough.Dispatcher, path string, fh uint64) *DirHandle {
	return &DirHandle{
		d:         d,
		path:      path,
		fh:        fh,
		resumable: d.Strategy().Resumable(),
	}
}

// load fetches everything after pos. Caller holds mu.
func (h *DirHandle) load() syscall.Errno {
	h.loaded = true
	var ordinal uint64
	var entries []fuse.DirEntry
	errc := h.d.Readdir(h.path, func(name string, st *passthrough.Stat, ofst int64) bool {
		e := fuse.DirEntry{Name: name}
		if st != nil {
			e.Mode = st.Mode
			e.Ino = st.Ino
		}
		switch {
		case !h.resumable:
			ordinal++
			e.Off = ordinal
		case h.d.IsStats(joinPath(h.path, name)):
			e.Off = statsOffset
		default:
			e.Off = uint64(ofst)
		}
		entries = append(entries, e)
		return true
	}, h.start(), h.fh)
	if errc != 0 {
		return toErrno(errc)
	}

	if !h.resumable {
		// The dispatcher listed from the start; drop what was already seen.
		skip := h.pos
		if skip > uint64(len(entries)) {
			skip = uint64(len(entries))
		}
		entries = entries[skip:]
	}
	h.pending = entries
	return 0
}

func (h *DirHandle) start() int64 {
	if !h.resumable {
		return 0
	}
	return int64(h.pos)
}

// Readdirent returns the next entry, or nil at the end of the listing.
func (h *DirHandle) Readdirent(ctx context.Context) (*fuse.DirEntry, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded {
		if errno := h.load(); errno != 0 {
			return nil, errno
		}
	}
	if len(h.pending) == 0 {
		return nil, 0
	}
	e := h.pending[0]
	h.pending = h.pending[1:]
	return &e, 0
}

// Seekdir positions the handle so the next entry is the one after off.
func (h *DirHandle) Seekdir(ctx context.Context, off uint64) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pending = nil
	h.pos = off
	if h.resumable && off == statsOffset {
		h.loaded = true
		return 0
	}
	h.loaded = false
	if h.resumable && off != 0 {
		// A fresh dispatcher handle so stats follows the resumed listing
		// even if an earlier load already queued it.
		h.d.Releasedir(h.path, h.fh)
		errc, fh := h.d.Opendir(h.path)
		if errc != 0 {
			h.fh = passthrough.NoHandle
			return toErrno(errc)
		}
		h.fh = fh
	}
	return 0
}

// Releasedir closes the dispatcher handle.
func (h *DirHandle) Releasedir(ctx context.Context, releaseFlags uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.d.Releasedir(h.path, h.fh)
	h.pending = nil
}

// Fsyncdir flushes the directory.
func (h *DirHandle) Fsyncdir(ctx context.Context, flags uint32) syscall.Errno {
	h.mu.Lock()
	fh := h.fh
	h.mu.Unlock()
	return toErrno(h.d.Fsyncdir(h.path, flags&fsyncDatasync != 0, fh))
}
