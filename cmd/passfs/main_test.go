package main

import (
	"bytes"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passfs/passfs/pkg/errors"
)

func TestReportError(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		var out bytes.Buffer
		reportError(&out, fmt.Errorf("unknown flag: --bogus"))
		assert.Equal(t, "Error: unknown flag: --bogus\n", out.String())
	})

	t.Run("coded error gets a recommendation", func(t *testing.T) {
		var out bytes.Buffer
		err := errors.NewError(errors.ErrCodeBackingRoot, "backing root is not a directory").
			WithComponent("cli").
			WithCause(syscall.ENOTDIR)
		reportError(&out, fmt.Errorf("startup: %w", err))

		assert.Contains(t, out.String(), "Error: Backing directory unavailable\n")
		assert.Contains(t, out.String(), "BACKING_ROOT: backing root is not a directory")
		assert.Contains(t, out.String(), err.GetRecommendation())
	})

	t.Run("internal error hides its message", func(t *testing.T) {
		var out bytes.Buffer
		reportError(&out, errors.NewError(errors.ErrCodeNotInitialized, "dispatcher missing"))
		assert.Contains(t, out.String(), "Error: An internal error occurred.\n")
		assert.NotContains(t, out.String(), "dispatcher missing")
	})
}

func TestRecoverInternal(t *testing.T) {
	assert.NoError(t, recoverInternal(func() error { return nil }))

	want := fmt.Errorf("plain")
	assert.Same(t, want, recoverInternal(func() error { return want }))

	err := recoverInternal(func() error { panic("dispatcher exploded") })
	var perr *errors.PassFSError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, errors.ErrCodeInternalError, perr.Code)
	assert.Equal(t, "dispatcher exploded", perr.Message)
	assert.Contains(t, perr.Stack, "TestRecoverInternal")

	var out bytes.Buffer
	reportError(&out, err)
	assert.Contains(t, out.String(), "Code: INTERNAL_ERROR")
	assert.Contains(t, out.String(), "Stack:\n")
	assert.Contains(t, out.String(), "TestRecoverInternal")
}
