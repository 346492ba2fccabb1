package passthrough

import "golang.org/x/sys/unix"

// errNoAttr is returned for a missing extended attribute.
const errNoAttr = unix.ENODATA

func fillStat(dst *Stat, src *unix.Stat_t) {
	*dst = Stat{
		Dev:     uint64(src.Dev),
		Ino:     uint64(src.Ino),
		Mode:    uint32(src.Mode),
		Nlink:   uint32(src.Nlink),
		Uid:     src.Uid,
		Gid:     src.Gid,
		Rdev:    uint64(src.Rdev),
		Size:    src.Size,
		Atim:    Timespec{Sec: int64(src.Atim.Sec), Nsec: int64(src.Atim.Nsec)},
		Mtim:    Timespec{Sec: int64(src.Mtim.Sec), Nsec: int64(src.Mtim.Nsec)},
		Ctim:    Timespec{Sec: int64(src.Ctim.Sec), Nsec: int64(src.Ctim.Nsec)},
		Blksize: int64(src.Blksize),
		Blocks:  int64(src.Blocks),
	}
}

func fillStatfs(dst *Statfs, src *unix.Statfs_t) {
	*dst = Statfs{
		Bsize:   uint64(src.Bsize),
		Frsize:  uint64(src.Frsize),
		Blocks:  src.Blocks,
		Bfree:   src.Bfree,
		Bavail:  src.Bavail,
		Files:   src.Files,
		Ffree:   src.Ffree,
		Favail:  src.Ffree,
		Flag:    uint64(src.Flags),
		Namemax: uint64(src.Namelen),
	}
}

func fdatasync(fd int) error {
	return unix.Fdatasync(fd)
}

func mknod(path string, mode uint32, dev uint64) error {
	return unix.Mknod(path, mode, int(dev))
}
