package passthrough

import "os"

// enumerateCursor falls back to ordinal positions: the token after the
// i-th entry (counting "." and "..") is i+1.
func enumerateCursor(dir string, ofst int64, fill FillFunc) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return false, err
	}

	names := make([]string, 0, len(entries)+2)
	modes := make([]uint32, 0, len(entries)+2)
	names = append(names, ".", "..")
	modes = append(modes, modeDir, modeDir)
	for _, e := range entries {
		names = append(names, e.Name())
		modes = append(modes, typeMode(e.Type()))
	}

	for i := ofst; i >= 0 && i < int64(len(names)); i++ {
		if !fill(names[i], &Stat{Mode: modes[i]}, i+1) {
			return false, nil
		}
	}
	return true, nil
}
