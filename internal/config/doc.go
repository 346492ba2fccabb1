/*
Package config provides configuration management for passfs with
multi-source support.

# Configuration Architecture

Sources are applied in order, later ones winning:

	┌─────────────────────────────────────────────┐
	│          Command line flags                 │ ← Highest Priority
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│        Environment Variables (PASSFS_*)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Configuration Structure

	global:
	  log_level: INFO            # DEBUG, INFO, WARN, ERROR
	mount:
	  root: /srv/data            # backing directory
	  mount_point: /mnt/data
	  options: [allow_other]     # forwarded to the FUSE host
	filesystem:
	  stats: true                # serve /stats
	  readdir_strategy: cursor   # sequential or cursor
	monitor:
	  console: false
	  file: /var/log/passfs.trace
	debug:
	  enabled: false
	  file: ./passfs_debug.log
	metrics:
	  enabled: false
	  address: 127.0.0.1:9464

# Environment Variables

	PASSFS_LOG_LEVEL         global.log_level
	PASSFS_ROOT              mount.root
	PASSFS_MOUNTPOINT        mount.mount_point
	PASSFS_OPTIONS           appended to mount.options
	PASSFS_STATS             filesystem.stats
	PASSFS_READDIR_STRATEGY  filesystem.readdir_strategy
	PASSFS_MONITOR           monitor.console
	PASSFS_MONITOR_FILE      monitor.file
	PASSFS_DEBUG             debug.enabled
	PASSFS_DEBUG_FILE        debug.file
	PASSFS_METRICS_ADDR      metrics.address, enables metrics

# Validation

Validate rejects a missing or relative backing root, unknown readdir
strategies and log levels, and incomplete debug or metrics sections. Call
MakeAbsolute first to resolve paths given relative to the working
directory.
*/
package config
