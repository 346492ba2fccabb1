/*
Package types holds the small contracts shared between the passfs
dispatcher and its collaborators.

	┌───────────────────────────────────┐
	│   FUSE host (cgofuse / go-fuse)   │
	└───────────────────────────────────┘
	                 │
	┌───────────────────────────────────┐
	│ Dispatcher (internal/passthrough) │
	└───────────────────────────────────┘
	       │            │            │
	┌──────┴─────┐ ┌────┴────┐ ┌─────┴──────┐
	│ ByteCounter│ │ Tracer  │ │  Metrics   │
	│            │ │(monitor)│ │ Collector  │
	└────────────┘ └─────────┘ └────────────┘

The dispatcher depends on these interfaces only, so tests can substitute
recording fakes for the monitor and the Prometheus collector.
*/
package types
