// Package errors provides a structured error system for exrcache with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for exrcache operations.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration Errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrCodeConfigSave       ErrorCode = "CONFIG_SAVE"

	// Format Errors
	ErrCodeFormatUnsupported ErrorCode = "FORMAT_UNSUPPORTED"
	ErrCodeFormatInvalid     ErrorCode = "FORMAT_INVALID"

	// Input Errors. These are expected while a file is still being written.
	ErrCodeInputCorrupt ErrorCode = "INPUT_CORRUPT"
	ErrCodeInputPartial ErrorCode = "INPUT_PARTIAL"

	// Stream Errors
	ErrCodeFileNotFound ErrorCode = "FILE_NOT_FOUND"
	ErrCodeStreamRead   ErrorCode = "STREAM_READ"
	ErrCodeStreamMap    ErrorCode = "STREAM_MAP"

	// Resource Management Errors
	ErrCodeOutOfMemory       ErrorCode = "OUT_OF_MEMORY"
	ErrCodeResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"

	// State Management Errors
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// Operation Errors
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeOperationFailed   ErrorCode = "OPERATION_FAILED"
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"

	// Internal System Errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnknownError  ErrorCode = "UNKNOWN_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFormat        ErrorCategory = "format"
	CategoryInput         ErrorCategory = "input"
	CategoryStream        ErrorCategory = "stream"
	CategoryResource      ErrorCategory = "resource"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// CacheError represents a structured error with context and metadata.
type CacheError struct {
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
func (e *CacheError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *CacheError) Is(target error) bool {
	if cacheErr, ok := target.(*CacheError); ok {
		return e.Code == cacheErr.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *CacheError) String() string {
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

	return fmt.Sprintf("CacheError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *CacheError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with default values.
func NewError(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:       code,
		Category:   GetCategory(code),
		Message:    message,
		Timestamp:  time.Now(),
		Details:    make(map[string]interface{}),
		Context:    make(map[string]string),
		UserFacing: IsUserFacingByDefault(code),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return NewError(code, fmt.Sprintf(format, args...))
}

// Wrap creates a new error with the given code that wraps cause.
func Wrap(cause error, code ErrorCode, message string) *CacheError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "INVALID_CONFIG") || strings.HasPrefix(codeStr, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(codeStr, "FORMAT_"):
		return CategoryFormat
	case strings.HasPrefix(codeStr, "INPUT_"):
		return CategoryInput
	case strings.HasPrefix(codeStr, "FILE_") || strings.HasPrefix(codeStr, "STREAM_"):
		return CategoryStream
	case strings.HasPrefix(codeStr, "OUT_OF_") || strings.HasPrefix(codeStr, "RESOURCE_"):
		return CategoryResource
	case strings.HasPrefix(codeStr, "INVALID_STATE"):
		return CategoryState
	case strings.HasPrefix(codeStr, "OPERATION_") || strings.HasPrefix(codeStr, "VALIDATION_"):
		return CategoryOperation
	default:
		return CategoryInternal
	}
}

// IsUserFacingByDefault determines if an error should be shown to users.
// Caching failures are invisible to users; only cancellation and
// unsupported files are reported.
func IsUserFacingByDefault(code ErrorCode) bool {
	userFacingCodes := map[ErrorCode]bool{
		ErrCodeInvalidConfig:     true,
		ErrCodeConfigValidation:  true,
		ErrCodeFormatUnsupported: true,
		ErrCodeFormatInvalid:     true,
		ErrCodeFileNotFound:      true,
		ErrCodeOperationCanceled: true,
	}
	return userFacingCodes[code]
}

// CaptureStack captures the current stack trace for debugging.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext adds contextual information to an error
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *CacheError) WithDetail(key string, value interface{}) *CacheError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *CacheError) WithOperation(operation string) *CacheError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *CacheError) WithCause(cause error) *CacheError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace
func (e *CacheError) WithStack() *CacheError {
	e.Stack = CaptureStack(1)
	return e
}

// UserFacingMessage returns a short message for end users, or "" when the
// error should be reported in full.
func (e *CacheError) UserFacingMessage() string {
	if !e.UserFacing {
		return ""
	}

	messages := map[ErrorCode]string{
		ErrCodeFormatUnsupported: "the image uses features that cannot be read",
		ErrCodeFormatInvalid:     "not a valid OpenEXR file",
		ErrCodeFileNotFound:      "file not found",
		ErrCodeOperationCanceled: "canceled",
		ErrCodeInvalidConfig:     "invalid configuration",
		ErrCodeConfigValidation:  "invalid configuration",
	}

	if msg, exists := messages[e.Code]; exists {
		return msg
	}

	return e.Message
}

// CodeOf returns the code of the first CacheError in err's chain, or
// ErrCodeUnknownError.
func CodeOf(err error) ErrorCode {
	var cacheErr *CacheError
	if stderrors.As(err, &cacheErr) {
		return cacheErr.Code
	}
	return ErrCodeUnknownError
}

// IsCode reports whether any CacheError in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if cacheErr, ok := err.(*CacheError); ok && cacheErr.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsCanceled reports whether err is a cancellation.
func IsCanceled(err error) bool {
	return IsCode(err, ErrCodeOperationCanceled)
}

// IsFormatUnsupported reports whether err rejects the file format.
func IsFormatUnsupported(err error) bool {
	return IsCode(err, ErrCodeFormatUnsupported)
}

// IsInputError reports whether err came from reading an incomplete or
// damaged file. Such errors are tolerated during decode.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	if IsCode(err, ErrCodeInputCorrupt) || IsCode(err, ErrCodeInputPartial) {
		return true
	}
	return stderrors.Is(err, io.ErrUnexpectedEOF) || stderrors.Is(err, io.EOF)
}
