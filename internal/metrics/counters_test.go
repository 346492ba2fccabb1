package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	c := NewCounters()
	assert.Zero(t, c.Snapshot().BytesRead)
	assert.Zero(t, c.Snapshot().BytesWritten)

	c.AddRead(10)
	c.AddWritten(4)
	c.AddRead(0)
	c.AddWritten(-3)

	snap := c.Snapshot()
	assert.Equal(t, uint64(10), snap.BytesRead)
	assert.Equal(t, uint64(4), snap.BytesWritten)
}

func TestCountersConcurrent(t *testing.T) {
	t.Parallel()

	const workers = 16
	const perWorker = 1000

	c := NewCounters()
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.AddRead(3)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.AddWritten(7)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, uint64(workers*perWorker*3), snap.BytesRead)
	assert.Equal(t, uint64(workers*perWorker*7), snap.BytesWritten)
}
