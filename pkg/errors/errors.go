// Package errors provides a structured error system for passfs with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ErrorCode represents a structured error code for passfs operations.
type ErrorCode string

// Error code constants organized by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Backing Store Errors
	ErrCodeBackingRoot ErrorCode = "BACKING_ROOT"

	// Filesystem Errors
	ErrCodeMountFailed      ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed    ErrorCode = "UNMOUNT_FAILED"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodePathTooLong      ErrorCode = "PATH_TOO_LONG"
	ErrCodePathInvalid      ErrorCode = "PATH_INVALID"

	// Instrumentation Errors
	ErrCodeMonitorOpen  ErrorCode = "MONITOR_OPEN"
	ErrCodeDebugLogOpen ErrorCode = "DEBUG_LOG_OPEN"

	// State Management Errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration   ErrorCategory = "configuration"
	CategoryStorage         ErrorCategory = "storage"
	CategoryFilesystem      ErrorCategory = "filesystem"
	CategoryInstrumentation ErrorCategory = "instrumentation"
	CategoryState           ErrorCategory = "state"
	CategoryInternal        ErrorCategory = "internal"
)

// PassFSError represents a structured error with context and metadata.
type PassFSError struct {
	// Core error information
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	// Contextual information
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	// Operational metadata
	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	// Error handling hints
	UserFacing bool `json:"user_facing"`

	// Debug information
	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *PassFSError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *PassFSError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *PassFSError) Is(target error) bool {
	if passErr, ok := target.(*PassFSError); ok {
		return e.Code == passErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *PassFSError) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}

	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}

	return fmt.Sprintf("PassFSError{%s}", strings.Join(parts, ", "))
}

// Errno maps the error onto the errno a filesystem call should report.
// A wrapped syscall.Errno wins; otherwise the code decides.
func (e *PassFSError) Errno() syscall.Errno {
	if errno, ok := e.Cause.(syscall.Errno); ok {
		return errno
	}
	switch e.Code {
	case ErrCodePathTooLong:
		return syscall.ENAMETOOLONG
	case ErrCodePermissionDenied:
		return syscall.EACCES
	case ErrCodePathInvalid:
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

// NewError creates a new passfs error with default values.
func NewError(code ErrorCode, message string) *PassFSError {
	return &PassFSError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "MISSING_CONFIG") ||
		strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "BACKING_"):
		return CategoryStorage
	case strings.HasPrefix(codeStr, "MOUNT_") || strings.HasPrefix(codeStr, "UNMOUNT_") ||
		strings.HasPrefix(codeStr, "PERMISSION_") || strings.HasPrefix(codeStr, "PATH_"):
		return CategoryFilesystem
	case strings.HasPrefix(codeStr, "MONITOR_") || strings.HasPrefix(codeStr, "DEBUG_LOG_"):
		return CategoryInstrumentation
	case strings.HasPrefix(codeStr, "ALREADY_") || strings.HasPrefix(codeStr, "NOT_INITIALIZED") ||
		strings.HasPrefix(codeStr, "INVALID_STATE"):
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsUserFacingByDefault determines if an error should be shown to users.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeInvalidConfig:    true,
		ErrCodeMissingConfig:    true,
		ErrCodeConfigValidation: true,
		ErrCodeConfigLoad:       true,
		ErrCodeBackingRoot:      true,
		ErrCodePermissionDenied: true,
		ErrCodePathTooLong:      true,
		ErrCodePathInvalid:      true,
		ErrCodeMountFailed:      true,
		ErrCodeMonitorOpen:      true,
		ErrCodeDebugLogOpen:     true,
	}
	return userFacingCodes[code]
}

// CaptureStack returns the stack of its caller, one "file:line function"
// per line. skip drops that many further frames above the caller.
func CaptureStack(skip int) string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *PassFSError) WithContext(key, value string) *PassFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *PassFSError) WithDetail(key string, value interface{}) *PassFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *PassFSError) WithComponent(component string) *PassFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *PassFSError) WithOperation(operation string) *PassFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *PassFSError) WithCause(cause error) *PassFSError {
	e.Cause = cause
	return e
}

// WithStack records the stack of the WithStack caller
func (e *PassFSError) WithStack() *PassFSError {
	e.Stack = CaptureStack(1)
	return e
}

// GetRecommendation returns a user-friendly recommendation for fixing the error
func (e *PassFSError) GetRecommendation() string {
	recommendations := map[ErrorCode]string{
		ErrCodeInvalidConfig: "Configuration validation failed. " +
			"Check your configuration file syntax and required parameters.",
		ErrCodeBackingRoot: "The backing directory could not be used. " +
			"Check that it exists, is a directory and is readable by the mounting user.",
		ErrCodeMountFailed: "Failed to mount filesystem. " +
			"Check mount point permissions and ensure FUSE is installed.",
		ErrCodeMonitorOpen: "The monitor file could not be opened for writing. " +
			"Check the path and the permissions of its directory.",
		ErrCodeDebugLogOpen: "The debug log could not be created in the working directory. " +
			"Run passfs from a writable directory or drop -d.",
		ErrCodePathTooLong: "The combined backing path is longer than the supported maximum. " +
			"Use a shorter backing root.",
	}

	if rec, exists := recommendations[e.Code]; exists {
		return rec
	}

	return "Please check the error message for details."
}

// UserFacingMessage returns a simplified message suitable for end users
func (e *PassFSError) UserFacingMessage() string {
	if !e.UserFacing {
		return "An internal error occurred."
	}

	messages := map[ErrorCode]string{
		ErrCodeInvalidConfig:    "Invalid configuration",
		ErrCodeConfigLoad:       "Failed to load configuration",
		ErrCodeBackingRoot:      "Backing directory unavailable",
		ErrCodePermissionDenied: "Permission denied",
		ErrCodePathTooLong:      "Path too long",
		ErrCodeMountFailed:      "Failed to mount filesystem",
		ErrCodeMonitorOpen:      "Failed to open monitor file",
		ErrCodeDebugLogOpen:     "Failed to open debug log",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}

	return e.Message
}

// DetailedDiagnostic returns a comprehensive diagnostic message
func (e *PassFSError) DetailedDiagnostic() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Error: %s", e.UserFacingMessage()))
	parts = append(parts, fmt.Sprintf("Code: %s", e.Code))
	parts = append(parts, fmt.Sprintf("Category: %s", e.Category))

	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component: %s", e.Component))
	}

	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation: %s", e.Operation))
	}

	if len(e.Context) > 0 {
		parts = append(parts, "\nContext:")
		for k, v := range e.Context {
			parts = append(parts, fmt.Sprintf("  %s: %s", k, v))
		}
	}

	parts = append(parts, "\nRecommendation:")
	parts = append(parts, "  "+e.GetRecommendation())

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("\nUnderlying cause: %s", e.Cause.Error()))
	}

	return strings.Join(parts, "\n")
}
