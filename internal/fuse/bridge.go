//go:build !cgofuse
// +build !cgofuse

package fuse

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/passfs/passfs/internal/passthrough"
)

const (
	// fsyncDatasync is FUSE_FSYNC_FDATASYNC in the fsync flags.
	fsyncDatasync = 1

	utimeOmit = unix.UTIME_OMIT
)

// safeInt64ToUint64 safely converts int64 to uint64, preventing negative values
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeInt64ToUint32 clamps i into the uint32 range
func safeInt64ToUint32(i int64) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// toErrno converts a dispatcher result into a go-fuse status.
func toErrno(errc int) syscall.Errno {
	if errc >= 0 {
		return 0
	}
	return syscall.Errno(-errc)
}

// FileSystem serves a dispatcher through go-fuse's node API. Nodes carry
// no state of their own: every call is re-addressed by virtual path.
type FileSystem struct {
	d *passthrough.Dispatcher
}

// NewFileSystem creates the go-fuse bridge for d.
func NewFileSystem(d *passthrough.Dispatcher) *FileSystem {
	return &FileSystem{d: d}
}

// Root returns the root inode
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &Node{fsys: f}
}

// Node is one directory entry seen through the mount.
type Node struct {
	fs.Inode
	fsys *FileSystem
}

var (
	_ = (fs.NodeLookuper)((*Node)(nil))
	_ = (fs.NodeGetattrer)((*Node)(nil))
	_ = (fs.NodeSetattrer)((*Node)(nil))
	_ = (fs.NodeOpener)((*Node)(nil))
	_ = (fs.NodeCreater)((*Node)(nil))
	_ = (fs.NodeOpendirHandler)((*Node)(nil))
	_ = (fs.NodeMkdirer)((*Node)(nil))
	_ = (fs.NodeMknoder)((*Node)(nil))
	_ = (fs.NodeRmdirer)((*Node)(nil))
	_ = (fs.NodeUnlinker)((*Node)(nil))
	_ = (fs.NodeRenamer)((*Node)(nil))
	_ = (fs.NodeLinker)((*Node)(nil))
	_ = (fs.NodeSymlinker)((*Node)(nil))
	_ = (fs.NodeReadlinker)((*Node)(nil))
	_ = (fs.NodeAccesser)((*Node)(nil))
	_ = (fs.NodeStatfser)((*Node)(nil))
	_ = (fs.NodeFsyncer)((*Node)(nil))
	_ = (fs.NodeGetxattrer)((*Node)(nil))
	_ = (fs.NodeSetxattrer)((*Node)(nil))
	_ = (fs.NodeRemovexattrer)((*Node)(nil))
	_ = (fs.NodeListxattrer)((*Node)(nil))
)

func (n *Node) path() string {
	return "/" + n.Path(nil)
}

func (n *Node) child(name string) string {
	return joinPath(n.path(), name)
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

// fillAttr copies dispatcher attributes into a go-fuse attribute block.
func fillAttr(out *fuse.Attr, st *passthrough.Stat) {
	out.Ino = st.Ino
	out.Size = safeInt64ToUint64(st.Size)
	out.Blocks = safeInt64ToUint64(st.Blocks)
	out.Atime = safeInt64ToUint64(st.Atim.Sec)
	out.Atimensec = safeInt64ToUint32(st.Atim.Nsec)
	out.Mtime = safeInt64ToUint64(st.Mtim.Sec)
	out.Mtimensec = safeInt64ToUint32(st.Mtim.Nsec)
	out.Ctime = safeInt64ToUint64(st.Ctim.Sec)
	out.Ctimensec = safeInt64ToUint32(st.Ctim.Nsec)
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Uid = st.Uid
	out.Gid = st.Gid
	out.Rdev = uint32(st.Rdev)
	out.Blksize = safeInt64ToUint32(st.Blksize)
}

// newChild stats path and hangs the result under n.
func (n *Node) newChild(ctx context.Context, path string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	var st passthrough.Stat
	if errc := n.fsys.d.Getattr(path, &st, passthrough.NoHandle); errc != 0 {
		return nil, toErrno(errc)
	}
	fillAttr(&out.Attr, &st)
	child := &Node{fsys: n.fsys}
	return n.NewInode(ctx, child, fs.StableAttr{
		Mode: st.Mode & syscall.S_IFMT,
		Ino:  st.Ino,
	}), 0
}

// Lookup looks up a child node by name
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return n.newChild(ctx, n.child(name), out)
}

// Getattr reports attributes of the node
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fh := passthrough.NoHandle
	if h, ok := f.(*Handle); ok {
		fh = h.fh
	}
	var st passthrough.Stat
	if errc := n.fsys.d.Getattr(n.path(), &st, fh); errc != 0 {
		return toErrno(errc)
	}
	fillAttr(&out.Attr, &st)
	return 0
}

// Setattr applies mode, ownership, size and time changes in that order
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	d := n.fsys.d
	p := n.path()
	fh := passthrough.NoHandle
	if h, ok := f.(*Handle); ok {
		fh = h.fh
	}

	if mode, ok := in.GetMode(); ok {
		if errc := d.Chmod(p, mode); errc != 0 {
			return toErrno(errc)
		}
	}

	uid, uok := in.GetUID()
	gid, gok := in.GetGID()
	if uok || gok {
		if !uok {
			uid = ^uint32(0)
		}
		if !gok {
			gid = ^uint32(0)
		}
		if errc := d.Chown(p, uid, gid); errc != 0 {
			return toErrno(errc)
		}
	}

	if size, ok := in.GetSize(); ok {
		if errc := d.Truncate(p, int64(size), fh); errc != 0 {
			return toErrno(errc)
		}
	}

	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		tmsp := []passthrough.Timespec{{Nsec: utimeOmit}, {Nsec: utimeOmit}}
		if aok {
			tmsp[0] = passthrough.Timespec{Sec: atime.Unix(), Nsec: int64(atime.Nanosecond())}
		}
		if mok {
			tmsp[1] = passthrough.Timespec{Sec: mtime.Unix(), Nsec: int64(mtime.Nanosecond())}
		}
		if errc := d.Utimens(p, tmsp); errc != 0 {
			return toErrno(errc)
		}
	}

	return n.Getattr(ctx, f, out)
}

func openFlags(fi *passthrough.OpenInfo) uint32 {
	var flags uint32
	if fi.DirectIo {
		flags |= fuse.FOPEN_DIRECT_IO
	}
	if fi.KeepCache {
		flags |= fuse.FOPEN_KEEP_CACHE
	}
	if fi.NonSeekable {
		flags |= fuse.FOPEN_NONSEEKABLE
	}
	return flags
}

// Open opens the node for I/O
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p := n.path()
	fi := passthrough.OpenInfo{Flags: int(flags)}
	if errc := n.fsys.d.OpenEx(p, &fi); errc != 0 {
		return nil, 0, toErrno(errc)
	}
	return &Handle{d: n.fsys.d, path: p, fh: fi.Fh}, openFlags(&fi), 0
}

// Create creates and opens a file
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	d := n.fsys.d
	p := n.child(name)
	fi := passthrough.OpenInfo{Flags: int(flags)}
	if errc := d.CreateEx(p, mode, &fi); errc != 0 {
		return nil, nil, 0, toErrno(errc)
	}
	h := &Handle{d: d, path: p, fh: fi.Fh}

	inode, errno := n.newChild(ctx, p, out)
	if errno != 0 {
		d.Release(p, fi.Fh)
		return nil, nil, 0, errno
	}
	return inode, h, openFlags(&fi), 0
}

// OpendirHandle opens a dispatcher directory handle. Listing, seeking
// and fsync then go through the returned DirHandle.
func (n *Node) OpendirHandle(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	p := n.path()
	errc, fh := n.fsys.d.Opendir(p)
	if errc != 0 {
		return nil, 0, toErrno(errc)
	}
	return newDirHandle(n.fsys.d, p, fh), 0, 0
}

// Mkdir creates a directory
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if errc := n.fsys.d.Mkdir(p, mode); errc != 0 {
		return nil, toErrno(errc)
	}
	return n.newChild(ctx, p, out)
}

// Mknod creates a file node
func (n *Node) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if errc := n.fsys.d.Mknod(p, mode, uint64(dev)); errc != 0 {
		return nil, toErrno(errc)
	}
	return n.newChild(ctx, p, out)
}

// Rmdir removes a directory
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.d.Rmdir(n.child(name)))
}

// Unlink removes a file
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.fsys.d.Unlink(n.child(name)))
}

// Rename moves an entry. Only plain renames are supported.
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	dst := joinPath("/"+newParent.EmbeddedInode().Path(nil), newName)
	return toErrno(n.fsys.d.Rename(n.child(name), dst))
}

// Link creates a hard link to target
func (n *Node) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if errc := n.fsys.d.Link("/"+target.EmbeddedInode().Path(nil), p); errc != 0 {
		return nil, toErrno(errc)
	}
	return n.newChild(ctx, p, out)
}

// Symlink creates a symbolic link holding target verbatim
func (n *Node) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	p := n.child(name)
	if errc := n.fsys.d.Symlink(target, p); errc != 0 {
		return nil, toErrno(errc)
	}
	return n.newChild(ctx, p, out)
}

// Readlink reads the target of a symbolic link
func (n *Node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	errc, target := n.fsys.d.Readlink(n.path())
	if errc != 0 {
		return nil, toErrno(errc)
	}
	return []byte(target), 0
}

// Access checks permissions against mask
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	return toErrno(n.fsys.d.Access(n.path(), mask))
}

// Statfs reports statistics of the backing filesystem
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	var st passthrough.Statfs
	if errc := n.fsys.d.Statfs(n.path(), &st); errc != 0 {
		return toErrno(errc)
	}
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Frsize)
	out.NameLen = uint32(st.Namemax)
	return 0
}

// Fsync flushes a file handle. Directories opened through OpendirHandle
// are synced by DirHandle.Fsyncdir; this covers a nil handle.
func (n *Node) Fsync(ctx context.Context, f fs.FileHandle, flags uint32) syscall.Errno {
	datasync := flags&fsyncDatasync != 0
	if h, ok := f.(*Handle); ok {
		return toErrno(n.fsys.d.Fsync(h.path, datasync, h.fh))
	}
	return toErrno(n.fsys.d.Fsyncdir(n.path(), datasync, passthrough.NoHandle))
}

// Getxattr reads an extended attribute. An empty dest asks for the size.
func (n *Node) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	errc, value := n.fsys.d.Getxattr(n.path(), attr)
	if errc != 0 {
		return 0, toErrno(errc)
	}
	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	return uint32(copy(dest, value)), 0
}

// Setxattr sets an extended attribute
func (n *Node) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	return toErrno(n.fsys.d.Setxattr(n.path(), attr, data, int(flags)))
}

// Removexattr removes an extended attribute
func (n *Node) Removexattr(ctx context.Context, attr string) syscall.Errno {
	return toErrno(n.fsys.d.Removexattr(n.path(), attr))
}

// Listxattr lists attribute names as a NUL separated block
func (n *Node) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	var block []byte
	errc := n.fsys.d.Listxattr(n.path(), func(name string) bool {
		block = append(block, name...)
		block = append(block, 0)
		return true
	})
	if errc != 0 {
		return 0, toErrno(errc)
	}
	if len(dest) == 0 {
		return uint32(len(block)), 0
	}
	if len(dest) < len(block) {
		return uint32(len(block)), syscall.ERANGE
	}
	return uint32(copy(dest, block)), 0
}

// Handle is an open file. path is the virtual path at open time and only
// labels trace lines; I/O goes through fh.
type Handle struct {
	d    *passthrough.Dispatcher
	path string
	fh   uint64
}

var (
	_ = (fs.FileReader)((*Handle)(nil))
	_ = (fs.FileWriter)((*Handle)(nil))
	_ = (fs.FileFlusher)((*Handle)(nil))
	_ = (fs.FileReleaser)((*Handle)(nil))
)

// Read reads from the handle at off
func (h *Handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n := h.d.Read(h.path, dest, off, h.fh)
	if n < 0 {
		return nil, toErrno(n)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

// Write writes data at off
func (h *Handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n := h.d.Write(h.path, data, off, h.fh)
	if n < 0 {
		return 0, toErrno(n)
	}
	return uint32(n), 0
}

// Flush is called on each close of a file descriptor
func (h *Handle) Flush(ctx context.Context) syscall.Errno {
	return toErrno(h.d.Flush(h.path, h.fh))
}

// Release is called when the last reference is dropped
func (h *Handle) Release(ctx context.Context) syscall.Errno {
	return toErrno(h.d.Release(h.path, h.fh))
}
