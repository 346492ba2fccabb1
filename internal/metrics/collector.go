package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/passfs/passfs/pkg/types"
)

// Collector records one sample per dispatched filesystem operation and
// exposes them over HTTP for Prometheus.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	source   types.CounterSource
	log      *logrus.Entry

	// Prometheus metrics
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec

	// Internal tracking
	operations map[string]*OperationMetrics
	lastReset  time.Time

	// HTTP server for metrics endpoint
	handlers map[string]http.Handler
	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// OperationMetrics tracks metrics for a specific operation type
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// DefaultConfig returns the metrics defaults: disabled, served on
// 127.0.0.1:9464 under /metrics once enabled.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   false,
		Address:   "127.0.0.1:9464",
		Path:      "/metrics",
		Namespace: "passfs",
	}
}

// NewCollector creates a new metrics collector. source, when non-nil,
// is exported as the bytes_read_total and bytes_written_total counters.
func NewCollector(config *Config, source types.CounterSource, log *logrus.Entry) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
		config.Enabled = true
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if !config.Enabled {
		return &Collector{config: config, log: log}, nil
	}

	collector := &Collector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		source:     source,
		log:        log.WithField("component", "metrics"),
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	collector.initMetrics()
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether samples are being recorded.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// Handler returns the HTTP handler serving the metrics and debug endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	if !c.Enabled() {
		return mux
	}
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)
	c.mu.RLock()
	for pattern, h := range c.handlers {
		mux.Handle(pattern, h)
	}
	c.mu.RUnlock()
	return mux
}

// Handle serves h on pattern next to the metrics endpoint. It must be
// called before Start.
func (c *Collector) Handle(pattern string, h http.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = make(map[string]http.Handler)
	}
	c.handlers[pattern] = h
}

// Start begins serving the metrics endpoint in the background.
func (c *Collector) Start(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", c.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", c.config.Address, err)
	}

	handler := c.Handler()

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.log.WithError(err).Error("metrics server stopped")
		}
	}()

	c.log.WithField("address", ln.Addr().String()).Info("metrics endpoint listening")
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records an operation with its metrics
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	metrics, exists := c.operations[operation]
	if !exists {
		metrics = &OperationMetrics{}
		c.operations[operation] = metrics
	}
	metrics.Count++
	metrics.TotalDuration += duration
	metrics.TotalSize += size
	if !success {
		metrics.Errors++
	}
	metrics.LastOperation = time.Now()
	metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.Count)
	c.mu.Unlock()

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{
		"operation": operation,
		"status":    status,
	}).Inc()
	c.operationDuration.With(prometheus.Labels{
		"operation": operation,
	}).Observe(duration.Seconds())

	if size > 0 {
		c.operationSize.With(prometheus.Labels{
			"operation": operation,
		}).Observe(float64(size))
	}
}

// RecordErrno counts a failed operation by the errno it returned.
func (c *Collector) RecordErrno(operation string, errno syscall.Errno) {
	if !c.Enabled() {
		return
	}

	c.errorCounter.With(prometheus.Labels{
		"operation": operation,
		"errno":     errnoLabel(errno),
	}).Inc()
}

// GetMetrics returns a copy of the per-operation totals.
func (c *Collector) GetMetrics() map[string]OperationMetrics {
	out := make(map[string]OperationMetrics)
	if !c.Enabled() {
		return out
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.operations {
		out[k] = *v
	}
	return out
}

// ResetMetrics resets the per-operation totals. Prometheus counters keep
// their values.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "operations_total",
			Help:      "Total number of dispatched filesystem operations",
		},
		[]string{"operation", "status"},
	)

	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of filesystem operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 12), // 10µs to ~40s
		},
		[]string{"operation"},
	)

	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_size_bytes",
			Help:      "Bytes transferred by read and write operations",
			Buckets:   prometheus.ExponentialBuckets(512, 2, 16), // 512B to 16MB
		},
		[]string{"operation"},
	)

	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "errors_total",
			Help:      "Total number of failed operations by errno",
		},
		[]string{"operation", "errno"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.errorCounter,
	}

	if c.source != nil {
		source := c.source
		metrics = append(metrics,
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: c.config.Namespace,
				Name:      "bytes_read_total",
				Help:      "Bytes read from the backing directory",
			}, func() float64 { return float64(source.Snapshot().BytesRead) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Namespace: c.config.Namespace,
				Name:      "bytes_written_total",
				Help:      "Bytes written to the backing directory",
			}, func() float64 { return float64(source.Snapshot().BytesWritten) }),
		)
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

func errnoLabel(errno syscall.Errno) string {
	if name, ok := errnoNames[errno]; ok {
		return name
	}
	return fmt.Sprintf("errno_%d", int(errno))
}

var errnoNames = map[syscall.Errno]string{
	syscall.EPERM:        "EPERM",
	syscall.ENOENT:       "ENOENT",
	syscall.EIO:          "EIO",
	syscall.EBADF:        "EBADF",
	syscall.EACCES:       "EACCES",
	syscall.EEXIST:       "EEXIST",
	syscall.EXDEV:        "EXDEV",
	syscall.ENOTDIR:      "ENOTDIR",
	syscall.EISDIR:       "EISDIR",
	syscall.EINVAL:       "EINVAL",
	syscall.ENOSPC:       "ENOSPC",
	syscall.EROFS:        "EROFS",
	syscall.ENAMETOOLONG: "ENAMETOOLONG",
	syscall.ENOTEMPTY:    "ENOTEMPTY",
	syscall.ENOSYS:       "ENOSYS",
	syscall.ENOTSUP:      "ENOTSUP",
	syscall.ELOOP:        "ELOOP",
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")

	// Helper to avoid errcheck issues
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("passfs Operations Summary\n")
	writef("=========================\n\n")
	writef("Uptime: %v\n", time.Since(c.lastReset).Round(time.Second))
	writef("Last Reset: %s\n", humanize.Time(c.lastReset))
	if c.source != nil {
		snap := c.source.Snapshot()
		writef("Bytes read: %s\n", humanize.IBytes(snap.BytesRead))
		writef("Bytes written: %s\n", humanize.IBytes(snap.BytesWritten))
	}
	writef("\n")

	if len(c.operations) == 0 {
		writef("No operations recorded.\n")
		return
	}

	names := make([]string, 0, len(c.operations))
	for name := range c.operations {
		names = append(names, name)
	}
	sort.Strings(names)

	writef("%-12s %10s %10s %14s %12s %10s\n",
		"Operation", "Count", "Errors", "Avg Duration", "Bytes", "Last Op")
	for _, name := range names {
		op := c.operations[name]
		writef("%-12s %10d %10d %14v %12s %10s\n",
			name, op.Count, op.Errors, op.AvgDuration,
			humanize.IBytes(uint64(op.TotalSize)), op.LastOperation.Format("15:04:05"))
	}
}
