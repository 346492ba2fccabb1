package passthrough

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// enumerateCursor reads raw linux_dirent64 records so every entry's d_off
// can be handed out as its continuation token:
//
//	u64 d_ino | s64 d_off | u16 d_reclen | u8 d_type | name\0
func enumerateCursor(dir string, ofst int64, fill FillFunc) (bool, error) {
	fd, err := unix.Open(dir, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return false, err
	}
	defer unix.Close(fd)

	if ofst != 0 {
		if _, err := unix.Seek(fd, ofst, 0); err != nil {
			return false, err
		}
	}

	buf := make([]byte, 8192)
	for {
		n, err := unix.Getdents(fd, buf)
		if err != nil {
			return false, err
		}
		if n <= 0 {
			return true, nil
		}

		for pos := 0; pos < n; {
			rec := buf[pos:n]
			if len(rec) < 19 {
				return false, unix.EIO
			}
			ino := binary.NativeEndian.Uint64(rec[0:8])
			off := int64(binary.NativeEndian.Uint64(rec[8:16]))
			reclen := int(binary.NativeEndian.Uint16(rec[16:18]))
			typ := rec[18]
			if reclen < 19 || reclen > len(rec) {
				return false, unix.EIO
			}
			pos += reclen

			name := rec[19:reclen]
			for i, c := range name {
				if c == 0 {
					name = name[:i]
					break
				}
			}

			st := &Stat{Ino: ino, Mode: direntMode(typ)}
			if !fill(string(name), st, off) {
				return false, nil
			}
		}
	}
}

func direntMode(t uint8) uint32 {
	switch t {
	case unix.DT_DIR:
		return unix.S_IFDIR
	case unix.DT_LNK:
		return unix.S_IFLNK
	case unix.DT_FIFO:
		return unix.S_IFIFO
	case unix.DT_SOCK:
		return unix.S_IFSOCK
	case unix.DT_CHR:
		return unix.S_IFCHR
	case unix.DT_BLK:
		return unix.S_IFBLK
	default:
		return unix.S_IFREG
	}
}
