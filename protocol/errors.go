package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTransport matches errors where the server was unreachable or its
	// response could not be interpreted. Such errors carry no application code.
	ErrTransport = errors.New("transport error")
	// ErrApplication matches errors where the backend processed the request
	// and rejected it.
	ErrApplication = errors.New("application error")
)

// Application codes returned by the backend in the envelope.
const (
	CodeSuccess      = 0
	CodeBadRequest   = 40000
	CodeValidation   = 40001
	CodeUnauthorized = 40100
	CodeForbidden    = 40300
	CodeInternal     = 50000
)

// Kind separates failures of the exchange itself from rejections by the
// backend.
type Kind int

const (
	// KindTransport: the server was unreachable, or its response was not a
	// JSON envelope that could be read.
	KindTransport Kind = iota
	// KindApplication: the backend answered with an envelope and rejected
	// the request, by HTTP status or by application code.
	KindApplication
)

// Error is the single failure type surfaced by Client.
type Error struct {
	Kind Kind
	// Status is the HTTP status; zero when no response was received.
	Status  int
	Message string
	// Code is the envelope's application code. It is nil for transport
	// errors and for rejections whose envelope carried no numeric code.
	Code    *int
	TraceID string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s (code %d, status %d)", e.Message, *e.Code, e.Status)
	}
	if e.Status == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is classify an Error against ErrTransport and ErrApplication.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrApplication:
		return e.Kind == KindApplication
	}
	return false
}

// AppCode returns the application code, if any.
func (e *Error) AppCode() (int, bool) {
	if e.Code == nil {
		return 0, false
	}
	return *e.Code, true
}

// IsTransport reports whether err is a transport-level failure.
func IsTransport(err error) bool { return errors.Is(err, ErrTransport) }

// IsApplication reports whether err is an application-level rejection.
func IsApplication(err error) bool { return errors.Is(err, ErrApplication) }

// StatusOf returns the HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized reports whether err reflects a rejected or expired credential.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if code, ok := apiErr.AppCode(); ok && code == CodeUnauthorized {
		return true
	}
	return apiErr.Status == http.StatusUnauthorized
}

func transportError(status int, msg string, cause error) *Error {
	return &Error{Kind: KindTransport, Status: status, Message: msg, Err: cause}
}
