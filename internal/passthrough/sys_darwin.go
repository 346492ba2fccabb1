package passthrough

import "golang.org/x/sys/unix"

// errNoAttr is returned for a missing extended attribute.
const errNoAttr = unix.ENOATTR

func fillStat(dst *Stat, src *unix.Stat_t) {
	*dst = Stat{
		Dev:      uint64(src.Dev),
		Ino:      src.Ino,
		Mode:     uint32(src.Mode),
		Nlink:    uint32(src.Nlink),
		Uid:      src.Uid,
		Gid:      src.Gid,
		Rdev:     uint64(src.Rdev),
		Size:     src.Size,
		Atim:     Timespec{Sec: src.Atim.Sec, Nsec: src.Atim.Nsec},
		Mtim:     Timespec{Sec: src.Mtim.Sec, Nsec: src.Mtim.Nsec},
		Ctim:     Timespec{Sec: src.Ctim.Sec, Nsec: src.Ctim.Nsec},
		Birthtim: Timespec{Sec: src.Btim.Sec, Nsec: src.Btim.Nsec},
		Blksize:  int64(src.Blksize),
		Blocks:   src.Blocks,
		Flags:    src.Flags,
	}
}

func fillStatfs(dst *Statfs, src *unix.Statfs_t) {
	*dst = Statfs{
		Bsize:   uint64(src.Bsize),
		Frsize:  uint64(src.Bsize),
		Blocks:  src.Blocks,
		Bfree:   src.Bfree,
		Bavail:  src.Bavail,
		Files:   src.Files,
		Ffree:   src.Ffree,
		Favail:  src.Ffree,
		Flag:    uint64(src.Flags),
		Namemax: 255,
	}
}

// fdatasync maps onto F_FULLFSYNC, the closest macOS equivalent.
func fdatasync(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_FULLFSYNC, 0)
	return err
}

// mknod creates regular files with creat(2); other node types go through
// mknod(2).
func mknod(path string, mode uint32, dev uint64) error {
	if mode&unix.S_IFMT == unix.S_IFREG || mode&unix.S_IFMT == 0 {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_WRONLY|unix.O_TRUNC, mode&^unix.S_IFMT)
		if err != nil {
			return err
		}
		return unix.Close(fd)
	}
	return unix.Mknod(path, mode, int(dev))
}
