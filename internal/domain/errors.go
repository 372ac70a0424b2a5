package domain

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorInvalidResponse ErrorKind = "INVALID_RESPONSE"
	ErrorInvalidInput    ErrorKind = "INVALID_INPUT"
	ErrorHTTPStatus      ErrorKind = "HTTP_STATUS"
	ErrorTransport       ErrorKind = "TRANSPORT"
	ErrorParse           ErrorKind = "PARSE"
)

// Error is the service error taxonomy shared by every layer of the client.
type Error struct {
	Kind       ErrorKind
	Reason     string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("mnx: %s (%s)", e.Kind, e.Reason)
	if e.Kind == ErrorHTTPStatus {
		msg = fmt.Sprintf("mnx: unexpected status %d (%s): %s", e.StatusCode, e.Reason, e.Body)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// HTTPStatusCode returns the upstream status, or 0 when none was observed.
func (e *Error) HTTPStatusCode() int {
	return e.StatusCode
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorTransport:
		return true
	case ErrorHTTPStatus:
		return e.StatusCode == 429 || e.StatusCode >= 500
	default:
		return false
	}
}

func InvalidResponse(reason string, err error) *Error {
	return &Error{Kind: ErrorInvalidResponse, Reason: reason, Err: err}
}

func InvalidInput(reason string, err error) *Error {
	return &Error{Kind: ErrorInvalidInput, Reason: reason, Err: err}
}

func HTTPStatus(code int, body string) *Error {
	return &Error{Kind: ErrorHTTPStatus, Reason: "http_status", StatusCode: code, Body: body}
}

func Transport(reason string, err error) *Error {
	return &Error{Kind: ErrorTransport, Reason: reason, Err: err}
}

func Parse(reason string, err error) *Error {
	return &Error{Kind: ErrorParse, Reason: reason, Err: err}
}

var (
	// ErrStreamConsumed is returned when a single-pass stream is iterated twice.
	ErrStreamConsumed = errors.New("stream already consumed")

	// ErrWriteConflict marks a records write the service rejected as conflicting.
	ErrWriteConflict = errors.New("records write conflict")
)

// KindOf returns the kind of a wrapped *Error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusOf returns the HTTP status carried by err, if any.
func StatusOf(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.StatusCode != 0 {
		return e.StatusCode, true
	}
	return 0, false
}

// IsRetryable reports whether err is a transient failure.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// Advice is the user-facing remedy the presentation layer shows for an error.
type Advice string

const (
	AdviceRetry      Advice = "try_again"
	AdviceReconnect  Advice = "reconnect"
	AdviceCheckInput Advice = "check_input"
	AdviceGeneric    Advice = "generic"
)

// ReasonAPIKeyMissing marks calls rejected because no credentials resolved.
const ReasonAPIKeyMissing = "api_key_missing"

// Advise maps an error to the remedy offered to the user.
func Advise(err error) Advice {
	var e *Error
	if !errors.As(err, &e) {
		return AdviceGeneric
	}
	switch {
	case e.Retryable():
		return AdviceRetry
	case e.StatusCode == 401 || e.StatusCode == 403 || e.Reason == ReasonAPIKeyMissing:
		return AdviceReconnect
	case e.Kind == ErrorInvalidInput:
		return AdviceCheckInput
	default:
		return AdviceGeneric
	}
}
