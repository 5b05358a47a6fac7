package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a class of failure independently of its message.
type ErrorCode string

const (
	ErrUnknown  ErrorCode = "UNKNOWN"
	ErrInternal ErrorCode = "INTERNAL"

	// Configuration errors. All of these are raised before any I/O happens.
	ErrConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrUnknownAlgorithm ErrorCode = "UNKNOWN_ALGORITHM"
	ErrRootNotFound     ErrorCode = "ROOT_NOT_FOUND"
	ErrRootNotDir       ErrorCode = "ROOT_NOT_DIRECTORY"

	// Run errors
	ErrTargetLocked ErrorCode = "TARGET_LOCKED"
	ErrCancelled    ErrorCode = "CANCELLED"
	ErrPartial      ErrorCode = "PARTIAL_FAILURE"
	ErrBackup       ErrorCode = "BACKUP"
	ErrReport       ErrorCode = "REPORT"
)

// exitStatuses maps codes to process exit statuses. The two root/algorithm
// statuses are kept stable because wrapper scripts match on them.
var exitStatuses = map[ErrorCode]int{
	ErrConfigLoad:       2,
	ErrConfigInvalid:    2,
	ErrUnknownAlgorithm: 98,
	ErrRootNotFound:     94,
	ErrRootNotDir:       94,
	ErrPartial:          3,
	ErrBackup:           4,
	ErrReport:           5,
	ErrTargetLocked:     75,
	ErrCancelled:        130,
}

// Error is a structured error with a stable code and optional details.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var targetErr *Error
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates an Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code. A nil err yields nil.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Wrapped = err
	return e
}

// Wrapf wraps err with a code and a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WithDetail attaches a key/value detail and returns e for chaining.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// GetCode returns the code of the first *Error in err's chain, or ErrUnknown.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrUnknown
}

// IsCode reports whether err's chain contains an *Error with code.
func IsCode(err error, code ErrorCode) bool {
	return errors.Is(err, &Error{Code: code})
}

// IsFatalConfig reports whether err is a configuration error that must abort
// the run before any I/O.
func IsFatalConfig(err error) bool {
	switch GetCode(err) {
	case ErrConfigLoad, ErrConfigInvalid, ErrUnknownAlgorithm, ErrRootNotFound, ErrRootNotDir:
		return true
	}
	return false
}

// ExitStatus maps err to a process exit status. nil maps to 0 and errors
// without a known code map to 1.
func ExitStatus(err error) int {
	if err == nil {
		return 0
	}
	if status, ok := exitStatuses[GetCode(err)]; ok {
		return status
	}
	return 1
}
