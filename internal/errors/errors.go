package errors

import (
	"errors"
	"fmt"
)

// Error is a coded error. Two errors match with errors.Is when their codes match,
// so callers can test for a specific rejection without string comparison.
type Error struct {
	code       ERR
	message    string
	wrappedErr error
}

type Interface interface {
	Error() string
	Is(target error) bool
	Unwrap() error

	Code() ERR
	Kind() Kind
	Message() string
}

var _ Interface = (*Error)(nil)

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.wrappedErr == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}

	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.wrappedErr)
}

// Is reports whether error codes match.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}

	var targetError *Error
	if !errors.As(target, &targetError) {
		return false
	}

	return e.code == targetError.code
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.wrappedErr
}

func (e *Error) Code() ERR {
	return e.code
}

func (e *Error) Kind() Kind {
	return e.code.Kind()
}

func (e *Error) Message() string {
	return e.message
}

// New creates an error with the given code. When the last param is an error it is
// wrapped rather than formatted.
func New(code ERR, message string, params ...interface{}) *Error {
	var wErr error

	if len(params) > 0 {
		if err, ok := params[len(params)-1].(error); ok {
			wErr = err
			params = params[:len(params)-1]
		}
	}

	if len(params) > 0 {
		message = fmt.Sprintf(message, params...)
	}

	return &Error{
		code:       code,
		message:    message,
		wrappedErr: wErr,
	}
}

// KindOf returns the taxonomy class of err, or KindUnknown when err carries no code.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}

	return KindUnknown
}

// CodeOf returns the code of the outermost coded error in the chain.
func CodeOf(err error) ERR {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}

	return ERR_UNKNOWN
}

// Is and As are re-exported so callers only need one errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Join(errs ...error) error {
	return errors.Join(errs...)
}
