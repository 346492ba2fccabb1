package fuse

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/passfs/passfs/internal/passthrough"
	"github.com/passfs/passfs/pkg/errors"
)

// FilesystemStats represents the transfer totals of a mounted filesystem
type FilesystemStats struct {
	BytesRead    uint64 `json:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written"`
}

// MountConfig contains mount-specific configuration
type MountConfig struct {
	MountPoint string `yaml:"mount_point"`
	FSName     string `yaml:"fsname"`
	Subtype    string `yaml:"subtype"`

	// Options are forwarded to the FUSE host verbatim, one "-o" value each.
	Options []string `yaml:"options"`

	Debug        bool          `yaml:"debug"`
	AllowOther   bool          `yaml:"allow_other"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// DefaultMountConfig returns the mount defaults for mountPoint.
func DefaultMountConfig(mountPoint string) *MountConfig {
	return &MountConfig{
		MountPoint:   mountPoint,
		FSName:       "passfs",
		Subtype:      "passfs",
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// PlatformFileSystem is a mountable host runtime serving one dispatcher.
type PlatformFileSystem interface {
	Mount() error
	Unmount() error
	IsMounted() bool
	Wait()
	GetStats() *FilesystemStats
}

func statsOf(d *passthrough.Dispatcher) *FilesystemStats {
	snap := d.Counters().Snapshot()
	return &FilesystemStats{
		BytesRead:    snap.BytesRead,
		BytesWritten: snap.BytesWritten,
	}
}

// splitOptions expands comma separated option lists and drops empties.
func splitOptions(opts []string) []string {
	var out []string
	for _, o := range opts {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func validateMountPoint(mountPoint string) error {
	if mountPoint == "" {
		return errors.NewError(errors.ErrCodeMountFailed, "mount point cannot be empty").
			WithComponent("fuse").WithOperation("mount")
	}

	info, err := os.Stat(mountPoint)
	if err != nil {
		return errors.NewError(errors.ErrCodeMountFailed, "cannot access mount point").
			WithComponent("fuse").
			WithOperation("mount").
			WithContext("mount_point", mountPoint).
			WithCause(err)
	}
	if !info.IsDir() {
		return errors.NewError(errors.ErrCodeMountFailed, "mount point is not a directory").
			WithComponent("fuse").
			WithOperation("mount").
			WithContext("mount_point", mountPoint)
	}

	if isAlreadyMounted("/proc/mounts", mountPoint) {
		return errors.NewError(errors.ErrCodeMountFailed, "mount point is already mounted").
			WithComponent("fuse").
			WithOperation("mount").
			WithContext("mount_point", mountPoint)
	}
	return nil
}

// isAlreadyMounted looks for mountPoint in the second column of a
// mounts table. A missing table means not mounted.
func isAlreadyMounted(table, mountPoint string) bool {
	f, err := os.Open(table)
	if err != nil {
		return false
	}
	defer f.Close()

	want := filepath.Clean(mountPoint)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 1 && fields[1] == want {
			return true
		}
	}
	return false
}
