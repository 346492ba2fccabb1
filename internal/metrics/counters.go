package metrics

import (
	"sync/atomic"

	"github.com/passfs/passfs/pkg/types"
)

// Counters holds the process-wide transfer totals shown by the stats file.
// Both fields only ever grow; concurrent reads and writes on different
// handles may race to add, so every update is atomic.
type Counters struct {
	bytesRead    atomic.Uint64
	bytesWritten atomic.Uint64
}

// NewCounters returns zeroed counters.
func NewCounters() *Counters {
	return &Counters{}
}

// AddRead adds n to the read total. Non-positive n is ignored.
func (c *Counters) AddRead(n int) {
	if n > 0 {
		c.bytesRead.Add(uint64(n))
	}
}

// AddWritten adds n to the write total. Non-positive n is ignored.
func (c *Counters) AddWritten(n int) {
	if n > 0 {
		c.bytesWritten.Add(uint64(n))
	}
}

// Snapshot returns a copy of both totals.
func (c *Counters) Snapshot() types.IOSnapshot {
	return types.IOSnapshot{
		BytesRead:    c.bytesRead.Load(),
		BytesWritten: c.bytesWritten.Load(),
	}
}
