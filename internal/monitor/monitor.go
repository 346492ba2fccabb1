// Package monitor writes one trace line per dispatched filesystem call to
// the console, a trace file, or both.
package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/fatih/color"

	"github.com/passfs/passfs/pkg/errors"
)

// Monitor is the process-wide instrumentation sink. The console and file
// sinks toggle independently; the file is opened at most once and kept
// until Close.
type Monitor struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
	opened  bool
	closed  bool
	failed  *color.Color
	active  atomic.Bool
	dropped atomic.Uint64
}

// New returns a monitor with both sinks off.
func New() *Monitor {
	failed := color.New(color.FgRed)
	failed.DisableColor()
	return &Monitor{failed: failed}
}

// EnableConsole routes trace lines to w. Failures are highlighted when w is
// a color-capable stdout.
func (m *Monitor) EnableConsole(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.console = w
	if f, ok := w.(*os.File); ok && f == os.Stdout && !color.NoColor {
		m.failed.EnableColor()
	}
	m.active.Store(!m.closed)
}

// EnableFile opens path for writing, truncating it. It may succeed only
// once per monitor.
func (m *Monitor) EnableFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opened {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "monitor file already opened").
			WithComponent("monitor").
			WithContext("path", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.NewError(errors.ErrCodeMonitorOpen, "cannot open monitor file").
			WithComponent("monitor").
			WithContext("path", path).
			WithCause(err)
	}

	m.file = f
	m.opened = true
	m.active.Store(!m.closed)
	return nil
}

// Enabled reports whether any sink is on.
func (m *Monitor) Enabled() bool {
	return m != nil && m.active.Load()
}

// Emit writes "<op> <args> res=OK" or "<op> <args> res=<errno> (<text>)".
// Positive errc values are byte counts and are appended as n=<errc>.
// Write failures are counted and never reported to the caller.
func (m *Monitor) Emit(operation, args string, errc int) {
	if !m.Enabled() {
		return
	}

	var b strings.Builder
	b.WriteString(operation)
	if args != "" {
		b.WriteByte(' ')
		b.WriteString(args)
	}
	prefix := b.String()

	var result string
	switch {
	case errc < 0:
		errno := syscall.Errno(-errc)
		result = fmt.Sprintf(" res=%x (%s)", int(errno), errno.Error())
	case errc > 0:
		result = fmt.Sprintf(" res=OK n=%d", errc)
	default:
		result = " res=OK"
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.console != nil {
		line := prefix + result
		if errc < 0 {
			line = m.failed.Sprint(line)
		}
		if _, err := io.WriteString(m.console, line+"\n"); err != nil {
			m.dropped.Add(1)
		}
	}
	if m.file != nil {
		if _, err := m.file.WriteString(prefix + result + "\n"); err != nil {
			m.dropped.Add(1)
		}
	}
}

// Dropped returns the number of trace lines a sink failed to accept.
func (m *Monitor) Dropped() uint64 {
	return m.dropped.Load()
}

// Close turns both sinks off and closes the trace file. The file is never
// reopened afterwards.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.active.Store(false)
	m.console = nil
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}
