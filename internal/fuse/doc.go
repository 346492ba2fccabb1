/*
Package fuse mounts a passthrough dispatcher through a FUSE host runtime.

The dispatcher in internal/passthrough speaks a path-based protocol: every
call names a virtual path rooted at the mount point and returns 0, a byte
count, or a negated errno. This package only adapts that protocol to the
host library selected at build time.

# Platform Support

Default Build (go-fuse):
  - Implementation: github.com/hanwen/go-fuse/v2
  - Nodes are stateless; each operation is re-addressed by virtual path
    and forwarded to the dispatcher.
  - Open directories are DirHandles, so resumable listing offsets reach
    the kernel and come back through Seekdir.
  - Pure Go, no cgo required.

CGO Build (cgofuse):
  - Implementation: github.com/winfsp/cgofuse
  - The path API maps one to one onto the dispatcher.
  - Requires libfuse (Linux), macFUSE (macOS) or WinFsp headers.

Build Selection:

	// Linux, pure Go
	go build ./...

	// Cross-platform host
	go build -tags cgofuse ./...

# Usage

	d, err := passthrough.New(passthrough.Options{Root: "/srv/data"})
	if err != nil {
		return err
	}

	manager := fuse.CreatePlatformMountManager(d, fuse.DefaultMountConfig("/mnt/data"), log)
	if err := manager.Mount(); err != nil {
		return err
	}
	defer manager.Unmount()
	manager.Wait()

# Direct I/O

Backing files and the stats file are opened with direct I/O so the kernel
page cache never answers a read or absorbs a write on the dispatcher's
behalf. Every transferred byte is counted.

# Mount Options

Options from the command line ("-o a,b") are split on commas and
forwarded to the host verbatim. "-d" enables the host's own request
tracing in addition to the debug log.
*/
package fuse
