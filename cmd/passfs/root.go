package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sys/unix"

	"github.com/passfs/passfs/internal/config"
	"github.com/passfs/passfs/internal/fuse"
	"github.com/passfs/passfs/internal/metrics"
	"github.com/passfs/passfs/internal/monitor"
	"github.com/passfs/passfs/internal/passthrough"
	"github.com/passfs/passfs/pkg/errors"
	"github.com/passfs/passfs/pkg/health"
	"github.com/passfs/passfs/pkg/types"
	"github.com/passfs/passfs/pkg/utils"
)

const (
	cmdRootShort = "Passthrough FUSE filesystem with operation tracing"
	cmdRootLong  = `passfs mirrors a backing directory at a mount point. Every call is
forwarded to the backing store unchanged and can be traced to the console
or a file. With -o stats a read-only "stats" file at the mount root reports
the bytes read and written through the mount.`

	// monitorConsole is the value a bare -m stands for.
	monitorConsole = "-"

	componentBackingRoot = "backing_root"
	componentMount       = "mount"
)

const mountOptionsHelp = `
Mount options (-o, forwarded to the FUSE host unless noted):
    stats                  serve the stats file (consumed by passfs)
    allow_other            allow access by other users
    default_permissions    let the kernel check permissions
    ro                     mount read-only
    max_read=N             limit the size of read requests
`

// rootOptions holds the parsed command line.
type rootOptions struct {
	configFile    string
	mountOptions  []string
	stats         bool
	debug         bool
	monitor       string
	readdirOffset bool
	metricsAddr   string
	foreground    bool
	version       bool
	fullHelp      bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "passfs [flags] <root> <mountpoint>",
		Short:         cmdRootShort,
		Long:          cmdRootLong,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.version {
				_, _ = fmt.Fprintf(out, "passfs version: %s\n", Version)
				return nil
			}
			if opts.fullHelp {
				if err := cmd.Help(); err != nil {
					return err
				}
				_, _ = fmt.Fprint(out, mountOptionsHelp)
				return nil
			}

			cfg, err := buildConfig(cmd, opts, args)
			if err != nil {
				return err
			}
			return recoverInternal(func() error {
				return run(cmd.Context(), cfg)
			})
		},
	}
	cmd.SetOut(out)
	opts.bind(cmd)
	return cmd
}

func (opts *rootOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "YAML configuration file")
	flags.StringArrayVarP(&opts.mountOptions, "options", "o", nil, "mount options, comma separated (see -H)")
	flags.BoolVar(&opts.stats, "stats", false, "serve the stats file at the mount root (same as -o stats)")
	flags.BoolVarP(&opts.debug, "debug", "d", false, "write a debug log to "+config.DefaultDebugLogFile+" and enable FUSE debug output")
	flags.StringVarP(&opts.monitor, "monitor", "m", "", "trace every call; -m for the console, -m=FILE for a file")
	flags.Lookup("monitor").NoOptDefVal = monitorConsole
	flags.BoolVarP(&opts.readdirOffset, "readdir-offset", "D", false, "list directories with resumable offsets")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVarP(&opts.foreground, "foreground", "f", false, "stay in the foreground (passfs never detaches)")
	flags.BoolVarP(&opts.version, "version", "V", false, "print the version and exit")
	flags.BoolVarP(&opts.fullHelp, "help-all", "H", false, "print help including mount options")
}

// buildConfig layers defaults, the config file, the environment and the
// command line, then resolves and validates the result.
func buildConfig(cmd *cobra.Command, opts *rootOptions, args []string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if opts.configFile != "" {
		if err := cfg.LoadFromFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Mount.Root = args[0]
	}
	if len(args) > 1 {
		cfg.Mount.MountPoint = args[1]
	}

	for _, o := range opts.mountOptions {
		for _, part := range strings.Split(o, ",") {
			switch part = strings.TrimSpace(part); part {
			case "":
			case types.SyntheticName:
				cfg.Filesystem.Stats = true
			default:
				cfg.Mount.Options = append(cfg.Mount.Options, part)
			}
		}
	}

	flags := cmd.Flags()
	if flags.Changed("stats") {
		cfg.Filesystem.Stats = opts.stats
	}
	if flags.Changed("debug") {
		cfg.Debug.Enabled = opts.debug
	}
	if flags.Changed("readdir-offset") && opts.readdirOffset {
		cfg.Filesystem.ReaddirStrategy = types.ReaddirCursor
	}
	if flags.Changed("monitor") {
		if opts.monitor == monitorConsole {
			cfg.Monitor.Console = true
		} else {
			cfg.Monitor.File = opts.monitor
		}
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Enabled = opts.metricsAddr != ""
		cfg.Metrics.Address = opts.metricsAddr
	}

	if cfg.Mount.MountPoint == "" {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "mount point is required").
			WithComponent("cli")
	}
	if err := cfg.MakeAbsolute(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// checkRoot requires the backing root to be an existing directory.
func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return errors.NewError(errors.ErrCodeBackingRoot, "cannot access backing root").
			WithComponent("cli").
			WithContext("root", root).
			WithCause(err)
	}
	if !info.IsDir() {
		return errors.NewError(errors.ErrCodeBackingRoot, "backing root is not a directory").
			WithComponent("cli").
			WithContext("root", root)
	}
	return nil
}

// openMonitor enables the configured trace sinks. The trace file is
// opened here, before anything is mounted, so a bad path fails startup.
func openMonitor(cfg *config.Configuration, console io.Writer) (*monitor.Monitor, error) {
	mon := monitor.New()
	if cfg.Monitor.Console {
		mon.EnableConsole(console)
	}
	if cfg.Monitor.File != "" {
		if err := mon.EnableFile(cfg.Monitor.File); err != nil {
			return nil, err
		}
	}
	return mon, nil
}

// newDispatcher assembles the dispatcher and its instrumentation.
func newDispatcher(cfg *config.Configuration, counters *metrics.Counters, mon *monitor.Monitor,
	collector *metrics.Collector, log *logrus.Entry) (*passthrough.Dispatcher, error) {

	strategy, err := passthrough.NewEnumerator(cfg.Filesystem.ReaddirStrategy)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).WithComponent("cli")
	}

	opts := passthrough.Options{
		Root:         cfg.Mount.Root,
		Strategy:     strategy,
		StatsEnabled: cfg.Filesystem.Stats,
		Counters:     counters,
		Logger:       log,
	}
	if mon != nil && mon.Enabled() {
		opts.Tracer = mon
	}
	if collector.Enabled() {
		opts.Metrics = collector
	}
	return passthrough.New(opts)
}

func mountConfig(cfg *config.Configuration) *fuse.MountConfig {
	mc := fuse.DefaultMountConfig(cfg.Mount.MountPoint)
	mc.FSName = cfg.Mount.FSName
	mc.Subtype = cfg.Mount.Subtype
	mc.Options = cfg.Mount.Options
	mc.AllowOther = cfg.Mount.AllowOther
	mc.AttrTimeout = cfg.Mount.AttrTimeout
	mc.EntryTimeout = cfg.Mount.EntryTimeout
	mc.Debug = cfg.Debug.Enabled
	return mc
}

// newHealthTracker tracks the backing root and the mount, logging every
// state change.
func newHealthTracker(log *logrus.Entry) *health.Tracker {
	tracker := health.NewTracker(health.DefaultConfig())
	tracker.RegisterComponent(componentBackingRoot)
	tracker.RegisterComponent(componentMount)
	tracker.OnStateChange(func(component string, oldState, newState health.HealthState, err error) {
		entry := log.WithFields(logrus.Fields{
			"check": component,
			"from":  oldState.String(),
			"to":    newState.String(),
		})
		if newState == health.StateHealthy {
			entry.Info("health check recovered")
			return
		}
		entry.WithError(err).Warn("health check failing")
	})
	return tracker
}

// checkWritable reports a backing root that can still be read but no
// longer written, such as a filesystem remounted read-only.
func checkWritable(root string, access func(path string, mode uint32) error) error {
	err := access(root, unix.W_OK)
	if err == nil {
		return nil
	}
	if err == unix.EROFS || err == unix.EACCES || err == unix.EPERM {
		return errors.NewError(errors.ErrCodePermissionDenied, "backing root is not writable").
			WithComponent("cli").
			WithContext("root", root).
			WithCause(err)
	}
	return errors.NewError(errors.ErrCodeBackingRoot, "cannot access backing root").
		WithComponent("cli").
		WithContext("root", root).
		WithCause(err)
}

// healthCheck returns the check for each tracked component.
func healthCheck(root string, manager fuse.PlatformFileSystem) func(component string) error {
	return componentCheck(root, manager, unix.Access)
}

func componentCheck(root string, manager fuse.PlatformFileSystem, access func(string, uint32) error) func(component string) error {
	return func(component string) error {
		switch component {
		case componentBackingRoot:
			if err := checkRoot(root); err != nil {
				return err
			}
			return checkWritable(root, access)
		case componentMount:
			if !manager.IsMounted() {
				return errors.NewError(errors.ErrCodeInvalidState, "filesystem is not mounted").
					WithComponent("cli")
			}
		}
		return nil
	}
}

func run(ctx context.Context, cfg *config.Configuration) error {
	if ctx == nil {
		ctx = context.Background()
	}

	mon, err := openMonitor(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer mon.Close()

	if err := checkRoot(cfg.Mount.Root); err != nil {
		return err
	}

	logger, closer, err := utils.SetupLogging(cfg.LogOptions())
	if err != nil {
		return err
	}
	defer closer.Close()
	log := logrus.NewEntry(logger).WithField("component", "passfs")

	undo, err := maxprocs.Set(maxprocs.Logger(logger.Debugf))
	if err != nil {
		log.WithError(err).Warn("failed to set GOMAXPROCS")
	}
	defer undo()

	counters := metrics.NewCounters()
	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Address:   cfg.Metrics.Address,
		Path:      cfg.Metrics.Path,
		Namespace: "passfs",
	}, counters, log)
	if err != nil {
		return err
	}
	tracker := newHealthTracker(log)
	collector.Handle("/healthz", tracker.Handler())
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = collector.Stop(shutdownCtx)
	}()

	d, err := newDispatcher(cfg, counters, mon, collector, log)
	if err != nil {
		return err
	}

	unix.Umask(0)

	manager := fuse.CreatePlatformMountManager(d, mountConfig(cfg), log)
	if err := manager.Mount(); err != nil {
		return err
	}
	if collector.Enabled() {
		healthCtx, stopHealth := context.WithCancel(ctx)
		defer stopHealth()
		check := healthCheck(cfg.Mount.Root, manager)
		tracker.CheckAll(check)
		go tracker.StartHealthChecks(healthCtx, check)
	}

	log.WithFields(logrus.Fields{
		"root":     cfg.Mount.Root,
		"mount":    cfg.Mount.MountPoint,
		"stats":    cfg.Filesystem.Stats,
		"readdir":  d.Strategy().Name(),
		"monitor":  mon.Enabled(),
		"metrics":  collector.Addr(),
		"debuglog": cfg.Debug.Enabled,
	}).Info("passfs serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Info("unmounting on signal")
			if err := manager.Unmount(); err != nil {
				log.WithError(err).Error("unmount failed")
			}
		case <-done:
		}
	}()

	manager.Wait()

	stats := manager.GetStats()
	log.WithFields(logrus.Fields{
		"bytes_read":    humanize.IBytes(stats.BytesRead),
		"bytes_written": humanize.IBytes(stats.BytesWritten),
		"trace_dropped": mon.Dropped(),
	}).Info("passfs stopped")
	return nil
}
