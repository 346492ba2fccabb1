package types

import (
	"syscall"
	"testing"
	"time"
)

// TestInterfaces verifies that our interfaces are properly structured
func TestInterfaces(t *testing.T) {
	var (
		_ MetricsCollector = (*mockMetricsCollector)(nil)
		_ Tracer           = (*mockTracer)(nil)
		_ CounterSource    = (*mockCounter)(nil)
		_ ByteCounter      = (*mockCounter)(nil)
	)
}

func TestIOSnapshotZeroValue(t *testing.T) {
	var snap IOSnapshot
	if snap.BytesRead != 0 || snap.BytesWritten != 0 {
		t.Errorf("zero IOSnapshot = %+v, want all zero", snap)
	}
}

func TestStrategyNames(t *testing.T) {
	if ReaddirSequential == ReaddirCursor {
		t.Fatal("strategy names must differ")
	}
	if SyntheticName != "stats" {
		t.Errorf("SyntheticName = %q, want %q", SyntheticName, "stats")
	}
}

type mockMetricsCollector struct{}

func (m *mockMetricsCollector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
}

func (m *mockMetricsCollector) RecordErrno(operation string, errno syscall.Errno) {}

type mockTracer struct{}

func (m *mockTracer) Emit(operation, args string, errc int) {}

type mockCounter struct{ snap IOSnapshot }

func (m *mockCounter) Snapshot() IOSnapshot { return m.snap }

func (m *mockCounter) AddRead(n int) { m.snap.BytesRead += uint64(n) }

func (m *mockCounter) AddWritten(n int) { m.snap.BytesWritten += uint64(n) }
