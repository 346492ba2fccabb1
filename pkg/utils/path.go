package utils

import (
	"fmt"
	"path/filepath"

	"github.com/passfs/passfs/pkg/errors"
)

// MaxPathLen bounds every translated path, terminator included.
const MaxPathLen = 4096

// Translator maps virtual paths handed in by the kernel onto the backing
// directory. It only concatenates: no cleaning, no symlink resolution and no
// sandboxing beyond what the kernel's own lookup already enforces.
//
// Example usage:
//
//	tr := Translator{Root: "/srv/data"}
//	full, err := tr.Translate("/a.txt") // "/srv/data/a.txt"
type Translator struct {
	Root string
}

// Translate returns Root+virtual, or a PATH_TOO_LONG error when the result
// would not fit in MaxPathLen.
func (t Translator) Translate(virtual string) (string, error) {
	if len(t.Root)+len(virtual) >= MaxPathLen {
		return "", errors.NewError(errors.ErrCodePathTooLong,
			fmt.Sprintf("translated path exceeds %d bytes", MaxPathLen)).
			WithComponent("translator").
			WithOperation("translate").
			WithDetail("virtual_path", virtual)
	}
	return t.Root + virtual, nil
}

// MakeAbsolute resolves a possibly relative backing root against the working
// directory and cleans it, so "." names the working directory itself and a
// trailing slash never doubles up in Root+"/x".
func MakeAbsolute(path string) (string, error) {
	if path == "" {
		return "", errors.NewError(errors.ErrCodePathInvalid, "path cannot be empty").
			WithComponent("translator")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewError(errors.ErrCodePathInvalid, "cannot determine working directory").
			WithComponent("translator").
			WithContext("root", path).
			WithCause(err)
	}

	if len(abs) >= MaxPathLen {
		return "", errors.NewError(errors.ErrCodePathTooLong,
			fmt.Sprintf("backing root exceeds %d bytes", MaxPathLen)).
			WithComponent("translator").
			WithContext("root", path)
	}
	return abs, nil
}
