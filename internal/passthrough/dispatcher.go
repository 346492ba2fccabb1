package passthrough

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/passfs/passfs/internal/metrics"
	"github.com/passfs/passfs/pkg/errors"
	"github.com/passfs/passfs/pkg/types"
	"github.com/passfs/passfs/pkg/utils"
)

// Options configures a Dispatcher.
type Options struct {
	// Root is the absolute backing directory.
	Root string

	// Strategy lists directories. Defaults to Sequential.
	Strategy Enumerator

	// StatsEnabled exposes the read-only stats file at the mount root.
	StatsEnabled bool

	// Counters receives read and write byte counts. Defaults to fresh counters.
	Counters types.ByteCounter

	// Tracer and Metrics are optional instrumentation sinks.
	Tracer  types.Tracer
	Metrics types.MetricsCollector

	Logger *logrus.Entry
}

// Dispatcher turns each path-based FUSE call into the matching syscall on
// the backing directory. Its method set follows the cgofuse
// FileSystemInterface: results are 0, a byte count, or a negated errno.
type Dispatcher struct {
	tr       utils.Translator
	strategy Enumerator
	stats    *synthetic
	counters types.ByteCounter
	tracer   types.Tracer
	metrics  types.MetricsCollector
	dirs     dirTable
	log      *logrus.Entry
}

// New validates opts and returns a ready dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if !filepath.IsAbs(opts.Root) {
		return nil, errors.NewError(errors.ErrCodeBackingRoot, "backing root must be absolute").
			WithComponent("dispatcher").
			WithContext("root", opts.Root)
	}
	if len(opts.Root) >= utils.MaxPathLen {
		return nil, errors.NewError(errors.ErrCodePathTooLong, "backing root too long").
			WithComponent("dispatcher").
			WithContext("root", opts.Root)
	}

	if opts.Strategy == nil {
		opts.Strategy = Sequential{}
	}
	if opts.Counters == nil {
		opts.Counters = metrics.NewCounters()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	now := time.Now()
	return &Dispatcher{
		tr:       utils.Translator{Root: opts.Root},
		strategy: opts.Strategy,
		stats: &synthetic{
			enabled:  opts.StatsEnabled,
			counters: opts.Counters,
			uid:      uint32(os.Getuid()),
			gid:      uint32(os.Getgid()),
			born:     Timespec{Sec: now.Unix(), Nsec: int64(now.Nanosecond())},
		},
		counters: opts.Counters,
		tracer:   opts.Tracer,
		metrics:  opts.Metrics,
		log:      opts.Logger.WithField("component", "dispatcher"),
	}, nil
}

// Root returns the backing directory.
func (d *Dispatcher) Root() string { return d.tr.Root }

// Strategy returns the directory enumeration strategy in use.
func (d *Dispatcher) Strategy() Enumerator { return d.strategy }

// Counters returns the transfer counters.
func (d *Dispatcher) Counters() types.ByteCounter { return d.counters }

// IsStats reports whether path names the synthetic stats file.
func (d *Dispatcher) IsStats(path string) bool { return d.stats.is(path) }

// trace brackets one dispatch. The returned func must be deferred with a
// pointer to the call's result; args are only formatted when a sink wants
// them.
func (d *Dispatcher) trace(op string, format string, args ...interface{}) func(*int) {
	return d.span(op, false, format, args...)
}

// traceTransfer is trace for read and write. counted reports whether a
// positive result is a backing transfer and so recorded as the sample size.
func (d *Dispatcher) traceTransfer(op string, counted bool, format string, args ...interface{}) func(*int) {
	return d.span(op, counted, format, args...)
}

func (d *Dispatcher) span(op string, counted bool, format string, args ...interface{}) func(*int) {
	start := time.Now()
	return func(errc *int) {
		res := *errc
		wantTrace := d.tracer != nil
		wantDebug := d.log.Logger.IsLevelEnabled(logrus.DebugLevel)

		if wantTrace || wantDebug {
			rendered := fmt.Sprintf(format, args...)
			if wantTrace {
				d.tracer.Emit(op, rendered, res)
			}
			if wantDebug {
				d.log.WithFields(logrus.Fields{
					"op":     op,
					"args":   rendered,
					"result": res,
				}).Debug("dispatch")
			}
		}

		if d.metrics != nil {
			var size int64
			if res > 0 && counted {
				size = int64(res)
			}
			d.metrics.RecordOperation(op, time.Since(start), size, res >= 0)
			if res < 0 {
				d.metrics.RecordErrno(op, syscall.Errno(-res))
			}
		}
	}
}

// errcOf converts err into a negated errno.
func errcOf(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return -int(errno)
	}
	var perr *errors.PassFSError
	if stderrors.As(err, &perr) {
		return -int(perr.Errno())
	}
	return -int(syscall.EIO)
}

const errAccess = -int(syscall.EACCES)

// Init is called when the filesystem is mounted.
func (d *Dispatcher) Init() {
	errc := 0
	defer d.trace("init", "root=%s,readdir=%s,stats=%t", d.tr.Root, d.strategy.Name(), d.stats.enabled)(&errc)
}

// Destroy is called when the filesystem is unmounted.
func (d *Dispatcher) Destroy() {
	errc := 0
	defer d.trace("destroy", "")(&errc)
}

// Statfs reports statistics of the filesystem holding the backing root,
// whatever path is asked about.
func (d *Dispatcher) Statfs(path string, stat *Statfs) (errc int) {
	defer d.trace("statfs", "%s", path)(&errc)

	var st unix.Statfs_t
	if err := unix.Statfs(d.tr.Root, &st); err != nil {
		return errcOf(err)
	}
	fillStatfs(stat, &st)
	stat.Fsid = 0
	return 0
}

// Mknod creates a file node.
func (d *Dispatcher) Mknod(path string, mode uint32, dev uint64) (errc int) {
	defer d.trace("mknod", "%s,mode=%o,dev=%x", path, mode, dev)(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(mknod(p, mode, dev))
}

// Mkdir creates a directory.
func (d *Dispatcher) Mkdir(path string, mode uint32) (errc int) {
	defer d.trace("mkdir", "%s,mode=%o", path, mode)(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Mkdir(p, mode))
}

// Unlink removes a file.
func (d *Dispatcher) Unlink(path string) (errc int) {
	defer d.trace("unlink", "%s", path)(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Unlink(p))
}

// Rmdir removes a directory.
func (d *Dispatcher) Rmdir(path string) (errc int) {
	defer d.trace("rmdir", "%s", path)(&errc)

	if d.stats.is(path) {
		return -int(syscall.ENOTDIR)
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Rmdir(p))
}

// Link creates a hard link.
func (d *Dispatcher) Link(oldpath string, newpath string) (errc int) {
	defer d.trace("link", "from:%s,to:%s", oldpath, newpath)(&errc)

	if d.stats.is(oldpath) || d.stats.is(newpath) {
		return errAccess
	}
	from, err := d.tr.Translate(oldpath)
	if err != nil {
		return errcOf(err)
	}
	to, err := d.tr.Translate(newpath)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Link(from, to))
}

// Symlink creates a symbolic link. The target is stored verbatim.
func (d *Dispatcher) Symlink(target string, newpath string) (errc int) {
	defer d.trace("symlink", "from:%s,to:%s", target, newpath)(&errc)

	if d.stats.is(newpath) {
		return errAccess
	}
	to, err := d.tr.Translate(newpath)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Symlink(target, to))
}

// Readlink reads the target of a symbolic link.
func (d *Dispatcher) Readlink(path string) (errc int, target string) {
	defer d.trace("readlink", "%s", path)(&errc)

	if d.stats.is(path) {
		return -int(syscall.EINVAL), ""
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err), ""
	}
	buf := make([]byte, PathMax)
	n, err := unix.Readlink(p, buf[:PathMax-1])
	if err != nil {
		return errcOf(err), ""
	}
	return 0, string(buf[:n])
}

// Rename renames a file.
func (d *Dispatcher) Rename(oldpath string, newpath string) (errc int) {
	defer d.trace("rename", "from:%s,to:%s", oldpath, newpath)(&errc)

	if d.stats.is(oldpath) || d.stats.is(newpath) {
		return errAccess
	}
	from, err := d.tr.Translate(oldpath)
	if err != nil {
		return errcOf(err)
	}
	to, err := d.tr.Translate(newpath)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Rename(from, to))
}

// Chmod changes the permission bits of a file.
func (d *Dispatcher) Chmod(path string, mode uint32) (errc int) {
	defer d.trace("chmod", "%s,mode=%o", path, mode)(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Chmod(p, mode))
}

// Chown changes the owner and group of a file without following symlinks.
func (d *Dispatcher) Chown(path string, uid uint32, gid uint32) (errc int) {
	defer d.trace("chown", "%s,uid=%d,gid=%d", path, int32(uid), int32(gid))(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Lchown(p, int(int32(uid)), int(int32(gid))))
}

// Utimens changes the access and modification times of a file. A nil
// tmsp means now.
func (d *Dispatcher) Utimens(path string, tmsp []Timespec) (errc int) {
	defer d.trace("utime", "%s", path)(&errc)

	if d.stats.is(path) {
		return 0
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}

	ts := make([]unix.Timespec, 2)
	if len(tmsp) < 2 {
		now := unix.NsecToTimespec(time.Now().UnixNano())
		ts[0], ts[1] = now, now
	} else {
		ts[0] = toTimespec(tmsp[0])
		ts[1] = toTimespec(tmsp[1])
	}
	return errcOf(unix.UtimesNanoAt(unix.AT_FDCWD, p, ts, 0))
}

// toTimespec keeps the UTIME_NOW and UTIME_OMIT markers intact.
func toTimespec(t Timespec) unix.Timespec {
	switch t.Nsec {
	case unix.UTIME_OMIT:
		ts := unix.Timespec{}
		ts.Nsec = unix.UTIME_OMIT
		return ts
	case unix.UTIME_NOW:
		ts := unix.Timespec{}
		ts.Nsec = unix.UTIME_NOW
		return ts
	}
	return unix.NsecToTimespec(t.Sec*1e9 + t.Nsec)
}

// Access checks file access permissions.
func (d *Dispatcher) Access(path string, mask uint32) (errc int) {
	defer d.trace("access", "%s,mask=%x", path, mask)(&errc)

	if d.stats.is(path) {
		return d.stats.access(mask)
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Access(p, mask))
}

// Create creates and opens a file.
func (d *Dispatcher) Create(path string, flags int, mode uint32) (int, uint64) {
	fi := OpenInfo{Flags: flags}
	errc := d.CreateEx(path, mode, &fi)
	if errc != 0 {
		return errc, NoHandle
	}
	return 0, fi.Fh
}

// CreateEx creates and opens a file, filling fi.
func (d *Dispatcher) CreateEx(path string, mode uint32, fi *OpenInfo) (errc int) {
	defer d.trace("create", "%s,flags=%x,mode=%o", path, fi.Flags, mode)(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	fd, err := unix.Open(p, fi.Flags|unix.O_CREAT, mode)
	if err != nil {
		return errcOf(err)
	}
	fi.Fh = uint64(fd)
	fi.DirectIo = true
	return 0
}

// Open opens a file.
func (d *Dispatcher) Open(path string, flags int) (int, uint64) {
	fi := OpenInfo{Flags: flags}
	errc := d.OpenEx(path, &fi)
	if errc != 0 {
		return errc, NoHandle
	}
	return 0, fi.Fh
}

// OpenEx opens a file, filling fi. Backing files are opened for direct
// I/O so every read and write reaches the dispatcher.
func (d *Dispatcher) OpenEx(path string, fi *OpenInfo) (errc int) {
	defer d.trace("open", "%s,flags=%x", path, fi.Flags)(&errc)

	if d.stats.is(path) {
		return d.stats.open(fi)
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	fd, err := unix.Open(p, fi.Flags, 0)
	if err != nil {
		return errcOf(err)
	}
	fi.Fh = uint64(fd)
	fi.DirectIo = true
	return 0
}

// Getattr gets file attributes without following symlinks.
func (d *Dispatcher) Getattr(path string, stat *Stat, fh uint64) (errc int) {
	defer d.trace("getattr", "%s", path)(&errc)

	if d.stats.is(path) {
		d.stats.getattr(stat)
		return 0
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	var st unix.Stat_t
	if err := unix.Lstat(p, &st); err != nil {
		return errcOf(err)
	}
	fillStat(stat, &st)
	return 0
}

// Truncate changes the size of a file.
func (d *Dispatcher) Truncate(path string, size int64, fh uint64) (errc int) {
	defer d.trace("truncate", "%s,size=%d", path, size)(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Truncate(p, size))
}

// Read reads data from a file. The read counter grows by the bytes
// actually transferred.
func (d *Dispatcher) Read(path string, buff []byte, ofst int64, fh uint64) (n int) {
	defer d.traceTransfer("read", !d.stats.is(path), "%s,size=%d,offset=%d", path, len(buff), ofst)(&n)

	if d.stats.is(path) {
		return d.stats.read(buff, ofst)
	}
	n, err := unix.Pread(int(fh), buff, ofst)
	if err != nil {
		return errcOf(err)
	}
	d.counters.AddRead(n)
	return n
}

// Write writes data to a file.
func (d *Dispatcher) Write(path string, buff []byte, ofst int64, fh uint64) (n int) {
	defer d.traceTransfer("write", !d.stats.is(path), "%s,size=%d,offset=%d", path, len(buff), ofst)(&n)

	if d.stats.is(path) {
		return errAccess
	}
	n, err := unix.Pwrite(int(fh), buff, ofst)
	if err != nil {
		return errcOf(err)
	}
	d.counters.AddWritten(n)
	return n
}

// Flush may be called several times per open file and must not close it.
// A dup of the descriptor is closed instead, which flushes on filesystems
// that write back on close.
func (d *Dispatcher) Flush(path string, fh uint64) (errc int) {
	defer d.trace("flush", "%s", path)(&errc)

	if d.stats.is(path) {
		return 0
	}
	dup, err := unix.Dup(int(fh))
	if err != nil {
		if err := unix.Fsync(int(fh)); err != nil {
			return -int(syscall.EIO)
		}
		return 0
	}
	return errcOf(unix.Close(dup))
}

// Release closes an open file.
func (d *Dispatcher) Release(path string, fh uint64) (errc int) {
	defer d.trace("release", "%s", path)(&errc)

	if d.stats.is(path) || fh == SyntheticHandle {
		return 0
	}
	return errcOf(unix.Close(int(fh)))
}

// Fsync synchronizes file contents.
func (d *Dispatcher) Fsync(path string, datasync bool, fh uint64) (errc int) {
	defer d.trace("fsync", "%s,datasync=%t", path, datasync)(&errc)

	if d.stats.is(path) {
		return 0
	}
	if datasync {
		return errcOf(fdatasync(int(fh)))
	}
	return errcOf(unix.Fsync(int(fh)))
}

// Opendir checks that path is a listable directory and returns a handle
// for Readdir. Listings reopen the backing directory on every Readdir; the
// handle only remembers whether the stats entry was delivered.
func (d *Dispatcher) Opendir(path string) (errc int, fh uint64) {
	defer d.trace("opendir", "%s", path)(&errc)

	if d.stats.is(path) {
		return -int(syscall.ENOTDIR), NoHandle
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err), NoHandle
	}
	fd, err := unix.Open(p, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errcOf(err), NoHandle
	}
	unix.Close(fd)
	return 0, d.dirs.add()
}

// Readdir lists a directory with the configured strategy. In stats mode
// the root listing carries the stats entry after every backing entry, once
// per Opendir handle; a listing restarted at offset 0 carries it again.
// Without a handle it is appended to every complete listing.
func (d *Dispatcher) Readdir(path string, fill FillFunc, ofst int64, fh uint64) (errc int) {
	defer d.trace("readdir", "%s,offset=%d,method=%s", path, ofst, d.strategy.Name())(&errc)

	if d.stats.is(path) {
		return -int(syscall.ENOTDIR)
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}

	root := d.stats.enabled && path == "/"
	h := d.dirs.get(fh)
	if h != nil && ofst == 0 {
		h.statsListed.Store(false)
	}

	emit := fill
	last := ofst
	if root {
		emit = func(name string, st *Stat, o int64) bool {
			// A backing file named like the stats file is shadowed.
			if name == syntheticPath[1:] {
				return true
			}
			if !fill(name, st, o) {
				return false
			}
			last = o
			return true
		}
	}

	done, err := d.strategy.Enumerate(p, ofst, emit)
	if err != nil {
		return errcOf(err)
	}
	if root && done && (h == nil || !h.statsListed.Load()) {
		// The stats entry reuses the last real token: resuming there
		// yields no backing entries, and the handle suppresses a repeat.
		var token int64
		if d.strategy.Resumable() {
			token = last
		}
		st := Stat{}
		d.stats.getattr(&st)
		if fill(syntheticPath[1:], &st, token) && h != nil {
			h.statsListed.Store(true)
		}
	}
	return 0
}

// Releasedir releases a directory handle.
func (d *Dispatcher) Releasedir(path string, fh uint64) (errc int) {
	defer d.trace("releasedir", "%s", path)(&errc)
	d.dirs.remove(fh)
	return 0
}

// Fsyncdir synchronizes directory contents.
func (d *Dispatcher) Fsyncdir(path string, datasync bool, fh uint64) (errc int) {
	defer d.trace("fsyncdir", "%s,datasync=%t", path, datasync)(&errc)

	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	fd, err := unix.Open(p, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errcOf(err)
	}
	defer unix.Close(fd)
	return errcOf(unix.Fsync(fd))
}

// Setxattr sets an extended attribute without following symlinks.
func (d *Dispatcher) Setxattr(path string, name string, value []byte, flags int) (errc int) {
	defer d.trace("setxattr", "%s,name=%s,size=%d", path, name, len(value))(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Lsetxattr(p, name, value, flags))
}

// Getxattr gets an extended attribute without following symlinks.
func (d *Dispatcher) Getxattr(path string, name string) (errc int, value []byte) {
	defer d.trace("getxattr", "%s,name=%s", path, name)(&errc)

	if d.stats.is(path) {
		return -int(errNoAttr), nil
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err), nil
	}

	value, err = readSized(func(buf []byte) (int, error) {
		return unix.Lgetxattr(p, name, buf)
	})
	if err != nil {
		return errcOf(err), nil
	}
	return 0, value
}

// readSized runs a size-query call twice: once to learn the length, once
// into a buffer of that length. It starts over while the value outgrows
// the buffer between the two calls.
func readSized(get func(buf []byte) (int, error)) ([]byte, error) {
	for {
		size, err := get(nil)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size)
		n, err := get(buf)
		if err == unix.ERANGE || n > len(buf) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
}

// Removexattr removes an extended attribute without following symlinks.
func (d *Dispatcher) Removexattr(path string, name string) (errc int) {
	defer d.trace("removexattr", "%s,name=%s", path, name)(&errc)

	if d.stats.is(path) {
		return errAccess
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}
	return errcOf(unix.Lremovexattr(p, name))
}

// Listxattr lists extended attribute names without following symlinks.
func (d *Dispatcher) Listxattr(path string, fill func(name string) bool) (errc int) {
	defer d.trace("listxattr", "%s", path)(&errc)

	if d.stats.is(path) {
		return 0
	}
	p, err := d.tr.Translate(path)
	if err != nil {
		return errcOf(err)
	}

	buf, err := readSized(func(buf []byte) (int, error) {
		return unix.Llistxattr(p, buf)
	})
	if err != nil {
		return errcOf(err)
	}

	for len(buf) > 0 {
		end := 0
		for end < len(buf) && buf[end] != 0 {
			end++
		}
		if end > 0 && !fill(string(buf[:end])) {
			break
		}
		if end == len(buf) {
			break
		}
		buf = buf[end+1:]
	}
	return 0
}
