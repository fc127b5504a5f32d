// Package errors provides coded errors for the importer.
// Every failure the engine reports carries a Code so callers can decide
// whether to abort the run or skip the offending record.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// Code identifies an error kind for programmatic handling.
type Code string

const (
	// Input errors (1xx)
	CodeFileNotFound             Code = "E101"
	CodeReadFailed               Code = "E102"
	CodeMalformedInput           Code = "E103"
	CodeUnmatchedNonJSONLine     Code = "E104"
	CodeAttributeCaptureMismatch Code = "E105"

	// Assembly errors (2xx)
	CodeMissingTimelineIdentity Code = "E201"
	CodeMissingEventName        Code = "E202"
	CodeNonNumericTimestamp     Code = "E203"

	// Sink errors (3xx)
	CodeSinkFailure Code = "E301"

	// System errors (4xx)
	CodeContextCanceled Code = "E401"

	// Configuration errors (5xx)
	CodeInvalidConfig Code = "E501"

	// Unknown
	CodeUnknown Code = "E999"
)

// String returns a readable name for the code.
func (c Code) String() string {
	switch c {
	case CodeFileNotFound:
		return "file not found"
	case CodeReadFailed:
		return "read failed"
	case CodeMalformedInput:
		return "malformed input"
	case CodeUnmatchedNonJSONLine:
		return "unmatched non-json line"
	case CodeAttributeCaptureMismatch:
		return "attribute capture mismatch"
	case CodeMissingTimelineIdentity:
		return "missing timeline identity"
	case CodeMissingEventName:
		return "missing event name"
	case CodeNonNumericTimestamp:
		return "non-numeric timestamp"
	case CodeSinkFailure:
		return "sink failure"
	case CodeContextCanceled:
		return "canceled"
	case CodeInvalidConfig:
		return "invalid config"
	default:
		return "unknown"
	}
}

// ImportError is the base error type for all importer errors.
type ImportError struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *ImportError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error by code.
func (e *ImportError) Is(target error) bool {
	if t, ok := target.(*ImportError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *ImportError) WithContext(key string, value interface{}) *ImportError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ImportError.
func New(code Code, message string) *ImportError {
	return &ImportError{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Newf creates a new ImportError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *ImportError {
	return &ImportError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code Code, message string) *ImportError {
	if err == nil {
		return nil
	}

	return &ImportError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *ImportError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *ImportError) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Sentinels for errors.Is matching ---

var (
	ErrMalformedInput           = &ImportError{Code: CodeMalformedInput}
	ErrUnmatchedNonJSONLine     = &ImportError{Code: CodeUnmatchedNonJSONLine}
	ErrAttributeCaptureMismatch = &ImportError{Code: CodeAttributeCaptureMismatch}
	ErrMissingTimelineIdentity  = &ImportError{Code: CodeMissingTimelineIdentity}
	ErrMissingEventName         = &ImportError{Code: CodeMissingEventName}
	ErrNonNumericTimestamp      = &ImportError{Code: CodeNonNumericTimestamp}
	ErrSinkFailure              = &ImportError{Code: CodeSinkFailure}
	ErrCanceled                 = &ImportError{Code: CodeContextCanceled}
)

// --- Convenience constructors ---

// FileNotFound creates a file not found error.
func FileNotFound(path string) *ImportError {
	return New(CodeFileNotFound, "input not found").WithContext("path", path)
}

// MalformedInput creates a JSON parse error at a byte offset.
func MalformedInput(offset int, err error) *ImportError {
	return Wrap(err, CodeMalformedInput, "malformed JSON input").
		WithContext("offset", offset)
}

// SinkFailure wraps a failed sink call.
func SinkFailure(op string, err error) *ImportError {
	return Wrap(err, CodeSinkFailure, "sink call failed").
		WithContext("op", op)
}

// Canceled creates a cancellation error.
func Canceled(operation string) *ImportError {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// InvalidConfig creates a configuration error.
func InvalidConfig(field string, err error) *ImportError {
	if err == nil {
		return New(CodeInvalidConfig, "invalid configuration").WithContext("field", field)
	}
	return Wrap(err, CodeInvalidConfig, "invalid configuration").WithContext("field", field)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return CodeUnknown
}

// IsRecordError reports whether err concerns a single input record and
// may be skipped without corrupting sink state.
func IsRecordError(err error) bool {
	switch GetCode(err) {
	case CodeMalformedInput, CodeUnmatchedNonJSONLine, CodeAttributeCaptureMismatch,
		CodeMissingTimelineIdentity, CodeMissingEventName, CodeNonNumericTimestamp:
		return true
	default:
		return false
	}
}

// IsFatal returns true if the error must abort the run.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeSinkFailure, CodeContextCanceled, CodeInvalidConfig, CodeReadFailed, CodeFileNotFound:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}

// Chain returns the message of err and of each error it wraps, outermost
// first. Text a message repeats from its cause is trimmed.
func Chain(err error) []string {
	var out []string
	for err != nil {
		msg := err.Error()
		next := errors.Unwrap(err)
		if next != nil {
			msg = strings.TrimSuffix(msg, ": "+next.Error())
		}
		out = append(out, msg)
		err = next
	}
	return out
}
