package types

import (
	"syscall"
	"time"
)

// MetricsCollector receives one sample per dispatched operation.
type MetricsCollector interface {
	RecordOperation(operation string, duration time.Duration, size int64, success bool)
	RecordErrno(operation string, errno syscall.Errno)
}

// Tracer emits one instrumentation line per dispatched operation. errc is
// the value handed back to the kernel: zero, a byte count, or a negated
// errno.
type Tracer interface {
	Emit(operation, args string, errc int)
}

// CounterSource exposes the transfer totals.
type CounterSource interface {
	Snapshot() IOSnapshot
}

// ByteCounter is the write side of the transfer totals.
type ByteCounter interface {
	CounterSource
	AddRead(n int)
	AddWritten(n int)
}
