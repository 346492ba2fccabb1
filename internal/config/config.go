package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/passfs/passfs/pkg/errors"
	"github.com/passfs/passfs/pkg/types"
	"github.com/passfs/passfs/pkg/utils"
)

// DefaultDebugLogFile is where debug mode writes, relative to the working
// directory of the mounting process.
const DefaultDebugLogFile = "./passfs_debug.log"

// Configuration represents the complete application configuration
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Mount      MountConfig      `yaml:"mount"`
	Filesystem FilesystemConfig `yaml:"filesystem"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	Debug      DebugConfig      `yaml:"debug"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// MountConfig describes what is mounted where
type MountConfig struct {
	Root         string        `yaml:"root"`
	MountPoint   string        `yaml:"mount_point"`
	FSName       string        `yaml:"fsname"`
	Subtype      string        `yaml:"subtype"`
	Options      []string      `yaml:"options"`
	AllowOther   bool          `yaml:"allow_other"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// FilesystemConfig represents dispatcher behavior
type FilesystemConfig struct {
	Stats           bool   `yaml:"stats"`
	ReaddirStrategy string `yaml:"readdir_strategy"`
}

// MonitorConfig selects the instrumentation trace destinations
type MonitorConfig struct {
	Console bool   `yaml:"console"`
	File    string `yaml:"file"`
}

// DebugConfig represents debug log settings
type DebugConfig struct {
	Enabled    bool   `yaml:"enabled"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MetricsConfig represents metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel: "INFO",
		},
		Mount: MountConfig{
			FSName:       "passfs",
			Subtype:      "passfs",
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		},
		Filesystem: FilesystemConfig{
			Stats:           false,
			ReaddirStrategy: types.ReaddirSequential,
		},
		Debug: DebugConfig{
			Enabled:    false,
			File:       DefaultDebugLogFile,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9464",
			Path:    "/metrics",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").
			WithContext("path", filename).
			WithCause(err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.NewError(errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").
			WithContext("path", filename).
			WithCause(err)
	}

	return nil
}

func envBool(name string, dst *bool) error {
	val := os.Getenv(name)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return errors.NewError(errors.ErrCodeInvalidConfig, "invalid boolean in environment").
			WithComponent("config").
			WithContext("variable", name).
			WithCause(err)
	}
	*dst = b
	return nil
}

// LoadFromEnv loads configuration from PASSFS_* environment variables
func (c *Configuration) LoadFromEnv() error {
	// Global settings
	if val := os.Getenv("PASSFS_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}

	// Mount settings
	if val := os.Getenv("PASSFS_ROOT"); val != "" {
		c.Mount.Root = val
	}
	if val := os.Getenv("PASSFS_MOUNTPOINT"); val != "" {
		c.Mount.MountPoint = val
	}
	if val := os.Getenv("PASSFS_OPTIONS"); val != "" {
		c.Mount.Options = append(c.Mount.Options, val)
	}

	// Filesystem behavior
	if err := envBool("PASSFS_STATS", &c.Filesystem.Stats); err != nil {
		return err
	}
	if val := os.Getenv("PASSFS_READDIR_STRATEGY"); val != "" {
		c.Filesystem.ReaddirStrategy = strings.ToLower(val)
	}

	// Instrumentation
	if err := envBool("PASSFS_MONITOR", &c.Monitor.Console); err != nil {
		return err
	}
	if val := os.Getenv("PASSFS_MONITOR_FILE"); val != "" {
		c.Monitor.File = val
	}
	if err := envBool("PASSFS_DEBUG", &c.Debug.Enabled); err != nil {
		return err
	}
	if val := os.Getenv("PASSFS_DEBUG_FILE"); val != "" {
		c.Debug.File = val
	}

	// Metrics endpoint
	if val := os.Getenv("PASSFS_METRICS_ADDR"); val != "" {
		c.Metrics.Address = val
		c.Metrics.Enabled = true
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to marshal config").
			WithComponent("config").
			WithCause(err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config").
			WithContext("path", filename).
			WithCause(err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.NewError(errors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config").
			WithContext("path", filename).
			WithCause(err)
	}

	return nil
}

// MakeAbsolute resolves relative root and mount point paths against the
// working directory.
func (c *Configuration) MakeAbsolute() error {
	root, err := utils.MakeAbsolute(c.Mount.Root)
	if err != nil {
		return err
	}
	c.Mount.Root = root

	if c.Mount.MountPoint != "" {
		mp, err := utils.MakeAbsolute(c.Mount.MountPoint)
		if err != nil {
			return err
		}
		c.Mount.MountPoint = mp
	}
	return nil
}

// LogOptions returns the logging setup derived from the configuration.
func (c *Configuration) LogOptions() utils.LogOptions {
	return utils.LogOptions{
		Level:      c.Global.LogLevel,
		Debug:      c.Debug.Enabled,
		DebugFile:  c.Debug.File,
		MaxSizeMB:  c.Debug.MaxSizeMB,
		MaxBackups: c.Debug.MaxBackups,
		MaxAgeDays: c.Debug.MaxAgeDays,
	}
}

func invalid(msg string) *errors.PassFSError {
	return errors.NewError(errors.ErrCodeConfigValidation, msg).WithComponent("config")
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if c.Mount.Root == "" {
		return errors.NewError(errors.ErrCodeMissingConfig, "backing root is required").
			WithComponent("config")
	}
	if !filepath.IsAbs(c.Mount.Root) {
		return invalid("backing root must be absolute").WithContext("root", c.Mount.Root)
	}

	switch c.Filesystem.ReaddirStrategy {
	case types.ReaddirSequential, types.ReaddirCursor:
	default:
		return invalid("invalid readdir_strategy: " + c.Filesystem.ReaddirStrategy +
			" (must be one of: " + types.ReaddirSequential + ", " + types.ReaddirCursor + ")")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: " + c.Global.LogLevel +
			" (must be one of: DEBUG, INFO, WARN, ERROR)")
	}

	if c.Debug.Enabled && c.Debug.File == "" {
		return invalid("debug file cannot be empty when debug is enabled")
	}
	if c.Debug.MaxSizeMB < 0 || c.Debug.MaxBackups < 0 || c.Debug.MaxAgeDays < 0 {
		return invalid("debug rotation limits cannot be negative")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return invalid("metrics address cannot be empty when metrics are enabled")
	}
	if c.Mount.AttrTimeout < 0 || c.Mount.EntryTimeout < 0 {
		return invalid("attribute and entry timeouts cannot be negative")
	}

	return nil
}
