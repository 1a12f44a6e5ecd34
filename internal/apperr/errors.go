// Package apperr defines the error taxonomy shared by the store, the Graph
// client and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindExternalAPI         Kind = "external_api"
	KindUnavailable         Kind = "unavailable"
)

// Error is a classified application error. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind markers for errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrExternalAPI         = &Error{Kind: KindExternalAPI}
	ErrUnavailable         = &Error{Kind: KindUnavailable}
)

func Validation(msg string, details any) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports a lifecycle guard violation.
func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

// ConcurrencyConflict reports a guard that held when read but lost the race to write.
func ConcurrencyConflict(format string, args ...any) *Error {
	return &Error{Kind: KindConcurrencyConflict, Message: fmt.Sprintf(format, args...)}
}

// Unavailable reports a feature that is not configured on this deployment.
func Unavailable(msg string) *Error {
	return &Error{Kind: KindUnavailable, Message: msg}
}

// UpstreamDetail carries the Graph API error fields.
type UpstreamDetail struct {
	Status    int    `json:"status,omitempty"`
	Type      string `json:"type,omitempty"`
	Code      int    `json:"code,omitempty"`
	Subcode   int    `json:"subcode,omitempty"`
	FBTraceID string `json:"fbtraceId,omitempty"`
}

// ExternalAPI wraps a Graph API failure. The upstream message is kept verbatim.
func ExternalAPI(message string, detail *UpstreamDetail, cause error) *Error {
	e := &Error{Kind: KindExternalAPI, Message: message, Err: cause}
	if detail != nil {
		e.Details = detail
	}
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code used at the REST boundary.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConcurrencyConflict:
		return http.StatusConflict
	case KindExternalAPI:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// FromStatus rebuilds a classified error from a REST response, used by clients.
func FromStatus(status int, message string, details any) error {
	var kind Kind
	switch status {
	case http.StatusBadRequest:
		kind = KindValidation
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusConflict:
		kind = KindInvalidState
	case http.StatusBadGateway:
		kind = KindExternalAPI
	case http.StatusServiceUnavailable:
		kind = KindUnavailable
	default:
		return fmt.Errorf("http %d: %s", status, message)
	}
	return &Error{Kind: kind, Message: message, Details: details}
}

// Permanent reports whether retrying the same request cannot change the outcome.
func Permanent(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindInvalidState, KindConcurrencyConflict:
		return true
	}
	return false
}
