package main

import (
	stderr "errors"
	"fmt"
	"io"
	"os"

	"github.com/passfs/passfs/pkg/errors"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err for the person who ran passfs. Coded errors get
// their short message and a recommendation; errors carrying a stack get
// the full diagnostic.
func reportError(w io.Writer, err error) {
	var perr *errors.PassFSError
	if !stderr.As(err, &perr) {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		return
	}

	if perr.Stack != "" {
		_, _ = fmt.Fprintf(w, "%s\n\nStack:\n%s\n", perr.DetailedDiagnostic(), perr.Stack)
		return
	}

	_, _ = fmt.Fprintf(w, "Error: %s\n", perr.UserFacingMessage())
	if perr.UserFacing {
		_, _ = fmt.Fprintf(w, "  %v\n", err)
	}
	_, _ = fmt.Fprintf(w, "  %s\n", perr.GetRecommendation())
}

// recoverInternal runs fn and turns a panic escaping it into an
// INTERNAL_ERROR that carries the panicking stack.
func recoverInternal(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewError(errors.ErrCodeInternalError, fmt.Sprint(r)).
				WithComponent("cli").
				WithStack()
		}
	}()
	return fn()
}
