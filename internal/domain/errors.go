package domain

import "errors"

// ErrorKind categorizes errors surfaced to clients.
type ErrorKind string

const (
	KindAdmissionRejected ErrorKind = "admission_rejected"
	KindValidation        ErrorKind = "validation"
	KindAuthorization     ErrorKind = "authorization"
	KindForbidden         ErrorKind = "forbidden"
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindInternal          ErrorKind = "internal"
)

// Error carries a stable, client-safe message. The wrapped error is kept for
// logging and never rendered to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func ValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// ErrUnknownMetric is returned for metric names outside the registry.
var ErrUnknownMetric = ValidationError("unknown metric")

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
