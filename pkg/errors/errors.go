package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Standard error types that can be used throughout the application
var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternalError     = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
	ErrUnavailable       = errors.New("service unavailable")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCanceled          = errors.New("operation canceled")

	// Pipeline error taxonomy
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrTranscriptionFailed   = errors.New("transcription failed")
	ErrDiarizationFailed     = errors.New("diarization failed")
	ErrAlignmentFailure      = errors.New("segment alignment invariant violated")
	ErrPersistenceFailed     = errors.New("persistence failed")
	ErrCallNotFound          = errors.New("call not found")
	ErrCallAlreadyProcessing = errors.New("call is already being processed")
	ErrInvalidTransition     = errors.New("invalid call status transition")
	ErrAudioTooLong          = errors.New("audio exceeds maximum allowed length")
	ErrQueueFull             = errors.New("processing queue is full")
	ErrNoProviderAvailable   = errors.New("no transcription provider available")
)

// Error represents a structured error with creation location and context
type Error struct {
	// original is the underlying error
	original error

	// message is the error message
	message string

	// fields contains contextual information
	fields map[string]interface{}

	// file and line record where the error was created
	file string
	line int

	// Code is an optional error code for categorization
	Code string
}

// New creates a new structured error with the given message
func New(message string, fields ...map[string]interface{}) *Error {
	_, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: errors.New(message),
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, message string, fields ...map[string]interface{}) *Error {
	if err == nil {
		return nil
	}

	_, file, line, _ := runtime.Caller(1)

	var fieldMap map[string]interface{}
	if len(fields) > 0 && fields[0] != nil {
		fieldMap = fields[0]
	} else {
		fieldMap = make(map[string]interface{})
	}

	return &Error{
		original: err,
		message:  message,
		fields:   fieldMap,
		file:     file,
		line:     line,
	}
}

// WithField adds a single field to the error context
func (e *Error) WithField(key string, value interface{}) *Error {
	if e == nil {
		return nil
	}

	result := &Error{
		original: e.original,
		message:  e.message,
		fields:   make(map[string]interface{}, len(e.fields)+1),
		file:     e.file,
		line:     e.line,
		Code:     e.Code,
	}

	for k, v := range e.fields {
		result.fields[k] = v
	}
	result.fields[key] = value

	return result
}

// WithCode adds an error code to the error
func (e *Error) WithCode(code string) *Error {
	if e == nil {
		return nil
	}

	return &Error{
		original: e.original,
		message:  e.message,
		fields:   e.fields,
		file:     e.file,
		line:     e.line,
		Code:     code,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e == nil || e.original == nil {
		return ""
	}

	if e.message == "" {
		return e.original.Error()
	}

	return fmt.Sprintf("%s: %v", e.message, e.original)
}

// Unwrap implements the errors.Unwrap interface
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.original
}

// Location returns the file:line where the error was created
func (e *Error) Location() string {
	if e == nil {
		return ""
	}

	parts := strings.Split(e.file, "/")
	filename := parts[len(parts)-1]

	return fmt.Sprintf("%s:%d", filename, e.line)
}

// GetFields returns the error's context fields
func (e *Error) GetFields() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.fields
}

// Is reports whether any error in err's tree matches target.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}

	if errors.Is(e.original, target) {
		return true
	}

	return e == target
}

// NewCallNotFound creates an ErrCallNotFound error carrying the call ID
func NewCallNotFound(callID string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrCallNotFound,
		message:  fmt.Sprintf("call not found: %s", callID),
		fields:   map[string]interface{}{"call_id": callID},
		file:     file,
		line:     line,
		Code:     "CALL_NOT_FOUND",
	}
}

// NewAlreadyProcessing creates an ErrCallAlreadyProcessing error for a call
func NewAlreadyProcessing(callID string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrCallAlreadyProcessing,
		message:  fmt.Sprintf("call is already being processed: %s", callID),
		fields:   map[string]interface{}{"call_id": callID},
		file:     file,
		line:     line,
		Code:     "ALREADY_PROCESSING",
	}
}

// NewInvalidTransition creates an ErrInvalidTransition error with both states
func NewInvalidTransition(callID, from, to string) *Error {
	_, file, line, _ := runtime.Caller(1)

	return &Error{
		original: ErrInvalidTransition,
		message:  fmt.Sprintf("invalid status transition %s -> %s for call %s", from, to, callID),
		fields:   map[string]interface{}{"call_id": callID, "from": from, "to": to},
		file:     file,
		line:     line,
		Code:     "INVALID_TRANSITION",
	}
}

// IsErrorType checks if an error is of a specific error type
func IsErrorType(err, target error) bool {
	return errors.Is(err, target)
}

// GetErrorCode extracts the error code from an error if it's a structured error
func GetErrorCode(err error) string {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Code
	}
	return ""
}
