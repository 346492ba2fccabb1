package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/passfs/passfs/pkg/errors"
)

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (logrus.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return logrus.DebugLevel, nil
	case "INFO":
		return logrus.InfoLevel, nil
	case "WARN", "WARNING":
		return logrus.WarnLevel, nil
	case "ERROR":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// LogOptions describes where process and debug logs go.
type LogOptions struct {
	Level string

	// Debug forces debug level and routes output into DebugFile.
	Debug      bool
	DebugFile  string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewLogger creates a new logger with the specified level and output
func NewLogger(level logrus.Level, output io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(output)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return logger
}

// SetupLogging builds the process logger. In debug mode the log is written
// to opts.DebugFile through a rotating writer; the returned closer releases
// it and is a no-op otherwise.
func SetupLogging(opts LogOptions) (*logrus.Logger, io.Closer, error) {
	level, err := ParseLogLevel(opts.Level)
	if err != nil {
		return nil, nil, errors.NewError(errors.ErrCodeInvalidConfig, err.Error()).
			WithComponent("logging")
	}

	if !opts.Debug {
		return NewLogger(level, os.Stderr), nopCloser{}, nil
	}

	// Fail at startup rather than on the first rotated write.
	f, err := os.OpenFile(opts.DebugFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, errors.NewError(errors.ErrCodeDebugLogOpen, "cannot open debug log").
			WithComponent("logging").
			WithContext("path", opts.DebugFile).
			WithCause(err)
	}
	_ = f.Close()

	writer := &lumberjack.Logger{
		Filename:   opts.DebugFile,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		LocalTime:  true,
	}
	return NewLogger(logrus.DebugLevel, writer), writer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
