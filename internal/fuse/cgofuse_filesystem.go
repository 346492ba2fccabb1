//go:build cgofuse
// +build cgofuse

package fuse

import (
	"sync"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/passfs/passfs/internal/passthrough"
)

// CgoFuseFS adapts the dispatcher to cgofuse's path-based interface.
// Every method is a type conversion around the matching dispatcher call.
type CgoFuseFS struct {
	fuse.FileSystemBase

	d     *passthrough.Dispatcher
	ready chan struct{}
	once  sync.Once
}

var (
	_ fuse.FileSystemInterface = (*CgoFuseFS)(nil)
	_ fuse.FileSystemOpenEx    = (*CgoFuseFS)(nil)
)

// NewCgoFuseFS creates a new cgofuse adapter for d
func NewCgoFuseFS(d *passthrough.Dispatcher) *CgoFuseFS {
	return &CgoFuseFS{d: d, ready: make(chan struct{})}
}

func toStat(dst *fuse.Stat_t, src *passthrough.Stat) {
	*dst = fuse.Stat_t{
		Dev:      src.Dev,
		Ino:      src.Ino,
		Mode:     src.Mode,
		Nlink:    src.Nlink,
		Uid:      src.Uid,
		Gid:      src.Gid,
		Rdev:     src.Rdev,
		Size:     src.Size,
		Atim:     fuse.Timespec{Sec: src.Atim.Sec, Nsec: src.Atim.Nsec},
		Mtim:     fuse.Timespec{Sec: src.Mtim.Sec, Nsec: src.Mtim.Nsec},
		Ctim:     fuse.Timespec{Sec: src.Ctim.Sec, Nsec: src.Ctim.Nsec},
		Birthtim: fuse.Timespec{Sec: src.Birthtim.Sec, Nsec: src.Birthtim.Nsec},
		Blksize:  src.Blksize,
		Blocks:   src.Blocks,
		Flags:    src.Flags,
	}
}

func toOpenInfo(fi *fuse.FileInfo_t) passthrough.OpenInfo {
	return passthrough.OpenInfo{
		Flags:       fi.Flags,
		Fh:          fi.Fh,
		DirectIo:    fi.DirectIo,
		KeepCache:   fi.KeepCache,
		NonSeekable: fi.NonSeekable,
	}
}

func fromOpenInfo(dst *fuse.FileInfo_t, src *passthrough.OpenInfo) {
	dst.Fh = src.Fh
	dst.DirectIo = src.DirectIo
	dst.KeepCache = src.KeepCache
	dst.NonSeekable = src.NonSeekable
}

// Init is called when the host has mounted the filesystem
func (c *CgoFuseFS) Init() {
	c.d.Init()
	c.once.Do(func() { close(c.ready) })
}

// Destroy is called when the filesystem is unmounted
func (c *CgoFuseFS) Destroy() {
	c.d.Destroy()
}

// Statfs gets file system statistics
func (c *CgoFuseFS) Statfs(path string, stat *fuse.Statfs_t) int {
	var st passthrough.Statfs
	errc := c.d.Statfs(path, &st)
	if errc == 0 {
		*stat = fuse.Statfs_t{
			Bsize:   st.Bsize,
			Frsize:  st.Frsize,
			Blocks:  st.Blocks,
			Bfree:   st.Bfree,
			Bavail:  st.Bavail,
			Files:   st.Files,
			Ffree:   st.Ffree,
			Favail:  st.Favail,
			Fsid:    st.Fsid,
			Flag:    st.Flag,
			Namemax: st.Namemax,
		}
	}
	return errc
}

// Mknod creates a file node
func (c *CgoFuseFS) Mknod(path string, mode uint32, dev uint64) int {
	return c.d.Mknod(path, mode, dev)
}

// Mkdir creates a directory
func (c *CgoFuseFS) Mkdir(path string, mode uint32) int {
	return c.d.Mkdir(path, mode)
}

// Unlink removes a file
func (c *CgoFuseFS) Unlink(path string) int {
	return c.d.Unlink(path)
}

// Rmdir removes a directory
func (c *CgoFuseFS) Rmdir(path string) int {
	return c.d.Rmdir(path)
}

// Link creates a hard link
func (c *CgoFuseFS) Link(oldpath string, newpath string) int {
	return c.d.Link(oldpath, newpath)
}

// Symlink creates a symbolic link
func (c *CgoFuseFS) Symlink(target string, newpath string) int {
	return c.d.Symlink(target, newpath)
}

// Readlink reads the target of a symbolic link
func (c *CgoFuseFS) Readlink(path string) (int, string) {
	return c.d.Readlink(path)
}

// Rename renames a file
func (c *CgoFuseFS) Rename(oldpath string, newpath string) int {
	return c.d.Rename(oldpath, newpath)
}

// Chmod changes the permission bits of a file
func (c *CgoFuseFS) Chmod(path string, mode uint32) int {
	return c.d.Chmod(path, mode)
}

// Chown changes the owner and group of a file
func (c *CgoFuseFS) Chown(path string, uid uint32, gid uint32) int {
	return c.d.Chown(path, uid, gid)
}

// Utimens changes the access and modification times of a file
func (c *CgoFuseFS) Utimens(path string, tmsp []fuse.Timespec) int {
	var ts []passthrough.Timespec
	if tmsp != nil {
		ts = make([]passthrough.Timespec, len(tmsp))
		for i, t := range tmsp {
			ts[i] = passthrough.Timespec{Sec: t.Sec, Nsec: t.Nsec}
		}
	}
	return c.d.Utimens(path, ts)
}

// Access checks file access permissions
func (c *CgoFuseFS) Access(path string, mask uint32) int {
	return c.d.Access(path, mask)
}

// Create creates and opens a file
func (c *CgoFuseFS) Create(path string, flags int, mode uint32) (int, uint64) {
	return c.d.Create(path, flags, mode)
}

// CreateEx creates and opens a file, reporting open flags to the host
func (c *CgoFuseFS) CreateEx(path string, mode uint32, fi *fuse.FileInfo_t) int {
	info := toOpenInfo(fi)
	errc := c.d.CreateEx(path, mode, &info)
	if errc == 0 {
		fromOpenInfo(fi, &info)
	}
	return errc
}

// Open opens a file
func (c *CgoFuseFS) Open(path string, flags int) (int, uint64) {
	return c.d.Open(path, flags)
}

// OpenEx opens a file, reporting open flags to the host
func (c *CgoFuseFS) OpenEx(path string, fi *fuse.FileInfo_t) int {
	info := toOpenInfo(fi)
	errc := c.d.OpenEx(path, &info)
	if errc == 0 {
		fromOpenInfo(fi, &info)
	}
	return errc
}

// Getattr gets file attributes
func (c *CgoFuseFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	var st passthrough.Stat
	errc := c.d.Getattr(path, &st, fh)
	if errc == 0 {
		toStat(stat, &st)
	}
	return errc
}

// Truncate changes the size of a file
func (c *CgoFuseFS) Truncate(path string, size int64, fh uint64) int {
	return c.d.Truncate(path, size, fh)
}

// Read reads data from a file
func (c *CgoFuseFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	return c.d.Read(path, buff, ofst, fh)
}

// Write writes data to a file
func (c *CgoFuseFS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	return c.d.Write(path, buff, ofst, fh)
}

// Flush flushes cached file data
func (c *CgoFuseFS) Flush(path string, fh uint64) int {
	return c.d.Flush(path, fh)
}

// Release closes an open file
func (c *CgoFuseFS) Release(path string, fh uint64) int {
	return c.d.Release(path, fh)
}

// Fsync synchronizes file contents
func (c *CgoFuseFS) Fsync(path string, datasync bool, fh uint64) int {
	return c.d.Fsync(path, datasync, fh)
}

// Opendir opens a directory
func (c *CgoFuseFS) Opendir(path string) (int, uint64) {
	return c.d.Opendir(path)
}

// Readdir reads a directory
func (c *CgoFuseFS) Readdir(path string,
	fill func(name string, stat *fuse.Stat_t, ofst int64) bool,
	ofst int64,
	fh uint64) int {

	return c.d.Readdir(path, func(name string, st *passthrough.Stat, o int64) bool {
		if st == nil {
			return fill(name, nil, o)
		}
		var out fuse.Stat_t
		toStat(&out, st)
		return fill(name, &out, o)
	}, ofst, fh)
}

// Releasedir closes an open directory
func (c *CgoFuseFS) Releasedir(path string, fh uint64) int {
	return c.d.Releasedir(path, fh)
}

// Fsyncdir synchronizes directory contents
func (c *CgoFuseFS) Fsyncdir(path string, datasync bool, fh uint64) int {
	return c.d.Fsyncdir(path, datasync, fh)
}

// Setxattr sets extended attributes
func (c *CgoFuseFS) Setxattr(path string, name string, value []byte, flags int) int {
	return c.d.Setxattr(path, name, value, flags)
}

// Getxattr gets extended attributes
func (c *CgoFuseFS) Getxattr(path string, name string) (int, []byte) {
	return c.d.Getxattr(path, name)
}

// Removexattr removes extended attributes
func (c *CgoFuseFS) Removexattr(path string, name string) int {
	return c.d.Removexattr(path, name)
}

// Listxattr lists extended attributes
func (c *CgoFuseFS) Listxattr(path string, fill func(name string) bool) int {
	return c.d.Listxattr(path, fill)
}
