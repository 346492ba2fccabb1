//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"log"
	"sync"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/passfs/passfs/internal/passthrough"
	"github.com/passfs/passfs/pkg/errors"
)

// MountManager manages FUSE mount operations
type MountManager struct {
	mu         sync.Mutex
	filesystem *FileSystem
	server     *fuse.Server
	config     *MountConfig
	mounted    bool
	log        *logrus.Entry
}

// NewMountManager creates a new mount manager
func NewMountManager(filesystem *FileSystem, config *MountConfig, log *logrus.Entry) *MountManager {
	if config == nil {
		config = DefaultMountConfig("")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &MountManager{
		filesystem: filesystem,
		config:     config,
		log:        log.WithField("component", "fuse"),
	}
}

// Mount mounts the filesystem and serves it in the background
func (m *MountManager) Mount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "filesystem is already mounted").
			WithComponent("fuse").WithOperation("mount")
	}
	if err := validateMountPoint(m.config.MountPoint); err != nil {
		return err
	}

	d := m.filesystem.d
	d.Init()
	server, err := fs.Mount(m.config.MountPoint, m.filesystem.Root(), m.buildFUSEOptions())
	if err != nil {
		d.Destroy()
		return errors.NewError(errors.ErrCodeMountFailed, "failed to mount filesystem").
			WithComponent("fuse").
			WithOperation("mount").
			WithContext("mount_point", m.config.MountPoint).
			WithCause(err)
	}

	m.server = server
	m.mounted = true
	m.log.WithField("mount_point", m.config.MountPoint).Info("filesystem mounted")

	go func() {
		server.Wait()
		m.mu.Lock()
		if m.server == server {
			m.mounted = false
		}
		m.mu.Unlock()
		d.Destroy()
		m.log.Debug("FUSE server stopped")
	}()

	return nil
}

// Unmount unmounts the filesystem
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.server == nil {
		return errors.NewError(errors.ErrCodeNotInitialized, "filesystem is not mounted").
			WithComponent("fuse").WithOperation("unmount")
	}

	m.log.WithField("mount_point", m.config.MountPoint).Info("unmounting filesystem")
	if err := m.server.Unmount(); err != nil {
		m.log.WithError(err).Warn("normal unmount failed, trying force unmount")
		if forceErr := unix.Unmount(m.config.MountPoint, unix.MNT_FORCE); forceErr != nil {
			return errors.NewError(errors.ErrCodeUnmountFailed, "unmount failed").
				WithComponent("fuse").
				WithOperation("unmount").
				WithContext("mount_point", m.config.MountPoint).
				WithContext("force_error", forceErr.Error()).
				WithCause(err)
		}
	}

	m.mounted = false
	m.server = nil
	return nil
}

// IsMounted checks if the filesystem is currently mounted
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// GetMountPoint returns the current mount point
func (m *MountManager) GetMountPoint() string {
	return m.config.MountPoint
}

// Wait blocks until the filesystem is unmounted
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

// GetStats returns the transfer totals
func (m *MountManager) GetStats() *FilesystemStats {
	return statsOf(m.filesystem.d)
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	attrTimeout := m.config.AttrTimeout
	entryTimeout := m.config.EntryTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.config.Subtype,
			FsName:     m.config.FSName,
			Debug:      m.config.Debug,
			AllowOther: m.config.AllowOther,
			Options:    splitOptions(m.config.Options),
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,

		// The backing store enforces permissions.
		NullPermissions: true,
	}

	if m.config.Debug {
		logger := log.New(m.log.WriterLevel(logrus.DebugLevel), "", 0)
		opts.MountOptions.Logger = logger
		opts.Logger = logger
	}

	return opts
}

// newPlatformFileSystem wires d into a go-fuse mount manager.
func newPlatformFileSystem(d *passthrough.Dispatcher, config *MountConfig, log *logrus.Entry) PlatformFileSystem {
	return NewMountManager(NewFileSystem(d), config, log)
}
