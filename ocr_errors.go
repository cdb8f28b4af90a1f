package upocr

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvalidInputError is returned when the image input can not be turned into a payload
// or a request argument is out of range.
type InvalidInputError struct {
	err error
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.err.Error() }
func (e *InvalidInputError) Unwrap() error { return e.err }

// Cause returns the original error, if any. Implements the pkg/errors causer interface.
func (e *InvalidInputError) Cause() error { return errors.Cause(e.err) }

func invalidInput(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return &InvalidInputError{err: errors.Errorf(format, args...)}
	}
	return &InvalidInputError{err: errors.Wrapf(cause, format, args...)}
}

type TransportErrorKind int

const (
	TransportConnection = TransportErrorKind(iota)
	TransportTimeout
	TransportStatus
	TransportBadResponse
)

func (k TransportErrorKind) String() string {
	switch k {
	case TransportConnection:
		return "connection"
	case TransportTimeout:
		return "timeout"
	case TransportStatus:
		return "status"
	case TransportBadResponse:
		return "bad_response"
	}
	return ""
}

// TransportError covers everything between handing the payload to the http client and
// having a JSON document the schema can read.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	err        error
}

func (e *TransportError) Error() string {
	if e.Kind == TransportStatus {
		return fmt.Sprintf("transport error (%s %d): %v", e.Kind, e.StatusCode, e.err)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Kind, e.err)
}

func (e *TransportError) Unwrap() error { return e.err }
func (e *TransportError) Cause() error  { return errors.Cause(e.err) }

func transportFailure(kind TransportErrorKind, cause error, msg string) error {
	if cause == nil {
		return &TransportError{Kind: kind, err: errors.New(msg)}
	}
	return &TransportError{Kind: kind, err: errors.Wrap(cause, msg)}
}

func badResponse(cause error, msg string) error {
	return transportFailure(TransportBadResponse, cause, msg)
}

// RejectedError means the backend answered, but with a confidence below the requested threshold.
type RejectedError struct {
	Confidence float64
	Threshold  float64
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("confidence insufficient: %v < %v", e.Confidence, e.Threshold)
}

// errorOutcome maps an error to the label used in logs and metrics.
func errorOutcome(err error) string {
	var invalid *InvalidInputError
	var transport *TransportError
	var rejected *RejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &invalid):
		return "invalid_input"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &transport):
		return "transport_" + transport.Kind.String()
	}
	return "error"
}
