package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const maxStackDepth = 16

// Error is a coded error carried from the failing layer up to the HTTP
// envelope. Message is what clients see; Err is kept for logs.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error

	pcs []uintptr
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an error carrying code and its default message.
func New(code ErrorCode) *Error {
	return build(code, code.Message(), nil)
}

func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err, keeping err's text as the message. The result
// is a fresh *Error even when err already is one, so the cause keeps its
// own code.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	return build(code, err.Error(), err)
}

func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return build(code, fmt.Sprintf(format, args...), err)
}

func build(code ErrorCode, msg string, cause error) *Error {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(3, pcs[:])
	return &Error{Code: code, Message: msg, Err: cause, pcs: pcs[:n]}
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// StackTrace formats the frames captured at construction, one per line.
func (e *Error) StackTrace() string {
	if len(e.pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.pcs)
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return b.String()
		}
	}
}

// GetCode returns the code of the outermost *Error in err's chain, Success
// for nil and InternalServerError for foreign errors.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the outermost *Error in err's chain, wrapping foreign
// errors as InternalServerError.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return build(InternalServerError, err.Error(), err)
}

// Is reports whether the outermost *Error in err's chain carries code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	return err != nil && stderrors.As(err, &e) && e.Code == code
}

func BadRequest(msg string) *Error {
	return New(InvalidParams).WithMessage(msg)
}

// FrozenError rejects an action attempted while the signal is RED.
func FrozenError(msg string) *Error {
	if msg == "" {
		return New(SessionFrozen)
	}
	return New(SessionFrozen).WithMessage(msg)
}

func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).
		WithDetail("field", field).
		WithDetail("reason", reason)
}
