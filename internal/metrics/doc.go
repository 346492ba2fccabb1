/*
Package metrics holds the passfs transfer counters and the Prometheus
collector fed by the dispatcher.

	┌─────────────┐        ┌────────────────────┐
	│  Counters   │ ─────▶ │ bytes_*_total      │
	│ (atomic)    │        │ (CounterFunc)      │
	└─────────────┘        └────────────────────┘
	┌─────────────┐        ┌────────────────────┐
	│  Collector  │ ─────▶ │ /metrics           │
	│             │        │ /debug/operations  │
	└─────────────┘        └────────────────────┘

Counters is always present: the synthetic stats file renders from it.
The Collector is optional and only records when enabled. Other handlers,
such as the health report, can share its server through Handle.

	counters := metrics.NewCounters()
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "passfs",
	}, counters, log)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

Exported series:

  - passfs_operations_total{operation,status}
  - passfs_operation_duration_seconds{operation}
  - passfs_operation_size_bytes{operation}
  - passfs_errors_total{operation,errno}
  - passfs_bytes_read_total, passfs_bytes_written_total
*/
package metrics
