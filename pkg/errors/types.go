// Package errors defines the coded error type shared by tandem's packages.
// HTTP handlers map codes to status codes and surface UserMessage and
// Remediation to the browser.
package errors

import (
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
)

// ErrorCode classifies an Error.
type ErrorCode string

// Filesystem
const (
	ErrCodeFSRead     ErrorCode = "FS_READ"
	ErrCodeFSWrite    ErrorCode = "FS_WRITE"
	ErrCodeFSDelete   ErrorCode = "FS_DELETE"
	ErrCodeFSList     ErrorCode = "FS_LIST"
	ErrCodeFSNotFound ErrorCode = "FS_NOT_FOUND"
)

// Terminals, watcher, scripts and the bus
const (
	ErrCodeSpawn       ErrorCode = "SPAWN"
	ErrCodeNoSession   ErrorCode = "NO_SESSION"
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
	ErrCodeWatchStart  ErrorCode = "WATCH_START"
	ErrCodeScriptRun   ErrorCode = "SCRIPT_RUN"
	ErrCodeBusPublish  ErrorCode = "BUS_PUBLISH"
)

// General
const (
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	ErrCodeInternal       ErrorCode = "INTERNAL"
)

// Error is a coded error with optional context and user-facing hints.
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	Context     map[string]any
	Retryable   bool
	UserMessage string
	Remediation []string
}

// New returns an Error without an underlying cause.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err. It returns nil for a nil err so
// call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err}
}

// WithContext records a key/value pair shown in Error().
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any, 2)
	}
	e.Context[key] = value
	return e
}

func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the message returned to clients in place of Message.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRemediation replaces the remediation tips. No tips leaves them as is.
func (e *Error) WithRemediation(tips ...string) *Error {
	if len(tips) > 0 {
		e.Remediation = slices.Clone(tips)
	}
	return e
}

// Error renders "[CODE] message {k: v, ...}: cause" with context keys sorted.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s: %v", k, e.Context[k])
		}
		b.WriteString(" {" + strings.Join(pairs, ", ") + "}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsCode reports whether err's chain holds an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// GetCode returns the code of the first *Error in err's chain. Uncoded
// errors report ErrCodeInternal and nil reports "".
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err's chain holds a retryable *Error.
func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}
