package passthrough

import (
	"sync"
	"sync/atomic"
)

// dirHandle is the state kept between Opendir and Releasedir.
type dirHandle struct {
	statsListed atomic.Bool
}

// dirTable hands out directory handles. Ids count up from 1, far below
// NoHandle and SyntheticHandle.
type dirTable struct {
	mu   sync.Mutex
	last uint64
	open map[uint64]*dirHandle
}

func (t *dirTable) add() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		t.open = make(map[uint64]*dirHandle)
	}
	t.last++
	t.open[t.last] = &dirHandle{}
	return t.last
}

// get returns nil for NoHandle and unknown ids.
func (t *dirTable) get(fh uint64) *dirHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open[fh]
}

func (t *dirTable) remove(fh uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, fh)
}
