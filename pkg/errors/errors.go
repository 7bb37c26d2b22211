// Package errors provides structured error handling for pqshim
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents invalid arguments or misuse of an API
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"

	// ErrorTypePathNotFound is returned when the planned input path does not exist
	ErrorTypePathNotFound ErrorType = "path_not_found"
	// ErrorTypeEmptyInput is returned when an input path holds no readable files
	ErrorTypeEmptyInput ErrorType = "empty_input"

	// ErrorTypeSchemaMismatch represents a file schema that cannot serve a description
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeUnsupportedType represents a physical type with no semantic mapping
	ErrorTypeUnsupportedType ErrorType = "unsupported_type"
	// ErrorTypeRecordDecode represents corrupt or undecodable file contents
	ErrorTypeRecordDecode ErrorType = "record_decode"

	// ErrorTypeFieldNotMapped represents a row field absent from the description
	ErrorTypeFieldNotMapped ErrorType = "field_not_mapped"
	// ErrorTypeValueType represents a value incompatible with its semantic type
	ErrorTypeValueType ErrorType = "value_type"
	// ErrorTypeDuplicateField represents a column path or field name declared twice
	ErrorTypeDuplicateField ErrorType = "duplicate_field"

	// ErrorTypeIO represents transport failures reported by a filesystem backend
	ErrorTypeIO ErrorType = "io"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps err with a type and message. The stack of an already structured
// cause is kept so the trace points at the original failure.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	wrapped := &Error{Type: errType, Message: message, Cause: err}
	var inner *Error
	if errors.As(err, &inner) {
		wrapped.Stack = inner.Stack
	} else {
		wrapped.Stack = captureStack(2)
	}
	return wrapped
}

// IsRetryable always reports false; retry decisions belong to the caller.
func IsRetryable(err error) bool {
	return false
}

// IsType checks if the outermost structured error in the chain is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// GetType returns the type of the outermost structured error, or "" when err
// carries none.
func GetType(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Type
}

// As is a re-export of the standard library errors.As so callers importing
// this package do not need both.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a re-export of the standard library errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Detail returns the value of the detail key from the first structured error
// in err's chain that carries it. Planner, reader and writer errors record
// the file they failed on under "path".
func Detail(err error, key string) (interface{}, bool) {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return nil, false
		}
		if v, ok := e.Details[key]; ok {
			return v, true
		}
		err = e.Cause
	}
	return nil, false
}

// captureStack records up to 32 frames above its caller's caller.
func captureStack(skip int) []StackFrame {
	pcs := make([]uintptr, 32)
	// +1 skips runtime.Callers itself
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]StackFrame, 0, n)
	for {
		frame, more := frames.Next()
		stack = append(stack, StackFrame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return stack
}
