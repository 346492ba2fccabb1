//go:build cgofuse
// +build cgofuse

package fuse

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/winfsp/cgofuse/fuse"

	"github.com/passfs/passfs/internal/passthrough"
	"github.com/passfs/passfs/pkg/errors"
)

// CgoFuseMountManager manages cgofuse-based mounts
type CgoFuseMountManager struct {
	mu         sync.Mutex
	filesystem *CgoFuseFS
	host       *fuse.FileSystemHost
	config     *MountConfig
	mounted    bool
	done       chan struct{}
	log        *logrus.Entry
}

// NewCgoFuseMountManager creates a new cgofuse mount manager
func NewCgoFuseMountManager(d *passthrough.Dispatcher, config *MountConfig, log *logrus.Entry) *CgoFuseMountManager {
	if config == nil {
		config = DefaultMountConfig("")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &CgoFuseMountManager{
		filesystem: NewCgoFuseFS(d),
		config:     config,
		log:        log.WithField("component", "cgofuse"),
	}
}

// hostArgs renders the mount configuration as host command line options.
func (m *CgoFuseMountManager) hostArgs() []string {
	args := []string{
		"-o", "fsname=" + m.config.FSName,
		"-o", "subtype=" + m.config.Subtype,
	}
	if m.config.AllowOther {
		args = append(args, "-o", "allow_other")
	}
	for _, opt := range splitOptions(m.config.Options) {
		args = append(args, "-o", opt)
	}
	if m.config.Debug {
		args = append(args, "-d")
	}
	return args
}

// Mount mounts the filesystem. The host loop runs in the background until
// Unmount; Mount returns once the host has called Init, or with an error
// if the host loop exits first.
func (m *CgoFuseMountManager) Mount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "filesystem already mounted").
			WithComponent("cgofuse").WithOperation("mount")
	}
	if err := validateMountPoint(m.config.MountPoint); err != nil {
		return err
	}

	m.filesystem = NewCgoFuseFS(m.filesystem.d)
	m.host = fuse.NewFileSystemHost(m.filesystem)
	done := make(chan struct{})
	m.done = done
	host, mountPoint, args := m.host, m.config.MountPoint, m.hostArgs()
	go func() {
		defer close(done)
		if !host.Mount(mountPoint, args) {
			m.log.WithField("mount_point", mountPoint).Error("host mount loop failed")
		}
	}()

	select {
	case <-m.filesystem.ready:
	case <-done:
		return errors.NewError(errors.ErrCodeMountFailed, "failed to mount filesystem").
			WithComponent("cgofuse").
			WithOperation("mount").
			WithContext("mount_point", mountPoint)
	}

	m.mounted = true
	m.log.WithField("mount_point", mountPoint).Info("filesystem mounted")
	return nil
}

// Unmount unmounts the filesystem
func (m *CgoFuseMountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.host == nil {
		return errors.NewError(errors.ErrCodeNotInitialized, "filesystem not mounted").
			WithComponent("cgofuse").WithOperation("unmount")
	}

	if !m.host.Unmount() {
		return errors.NewError(errors.ErrCodeUnmountFailed, "unmount failed").
			WithComponent("cgofuse").
			WithOperation("unmount").
			WithContext("mount_point", m.config.MountPoint)
	}

	m.mounted = false
	m.log.WithField("mount_point", m.config.MountPoint).Info("filesystem unmounted")
	return nil
}

// IsMounted returns whether the filesystem is mounted
func (m *CgoFuseMountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// Wait blocks until the host loop exits
func (m *CgoFuseMountManager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// GetStats returns the transfer totals
func (m *CgoFuseMountManager) GetStats() *FilesystemStats {
	return statsOf(m.filesystem.d)
}

// newPlatformFileSystem wires d into a cgofuse mount manager.
func newPlatformFileSystem(d *passthrough.Dispatcher, config *MountConfig, log *logrus.Entry) PlatformFileSystem {
	return NewCgoFuseMountManager(d, config, log)
}
