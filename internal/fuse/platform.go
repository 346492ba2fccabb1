package fuse

import (
	"github.com/sirupsen/logrus"

	"github.com/passfs/passfs/internal/passthrough"
)

// CreatePlatformMountManager creates the mount manager for the host
// runtime selected at build time: go-fuse by default, cgofuse with
// -tags cgofuse.
func CreatePlatformMountManager(d *passthrough.Dispatcher, config *MountConfig, log *logrus.Entry) PlatformFileSystem {
	if config == nil {
		config = DefaultMountConfig("")
	}
	return newPlatformFileSystem(d, config, log)
}
