// Package apperr defines the error kinds shared by the sync engine.
// Every failure that crosses a component boundary (upstream client, rate
// limiter, webhook verification) is classified into one Kind so callers can
// decide between retrying, marking a credential expired, or surfacing the
// failure to the user.
package apperr

import (
	"errors"
	"net/http"
	"strings"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	// KindNotFound indicates the upstream account or enrollment is no longer valid.
	KindNotFound Kind = "NOT_FOUND"

	// KindUnauthorized indicates an invalid or expired credential, or a bad webhook signature.
	KindUnauthorized Kind = "UNAUTHORIZED"

	// KindForbidden indicates the grant does not cover the requested resource.
	KindForbidden Kind = "FORBIDDEN"

	// KindServiceUnavailable indicates a transient upstream failure (5xx, timeout, throttling).
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"

	// KindMalformedResponse indicates the upstream payload violated its contract.
	KindMalformedResponse Kind = "MALFORMED_RESPONSE"

	// KindRateLimited indicates the local rate limiter refused admission.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindBadRequest indicates malformed inbound input.
	KindBadRequest Kind = "BAD_REQUEST"

	// KindInternal indicates an unclassified failure.
	KindInternal Kind = "INTERNAL_ERROR"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
// Unclassified errors report KindInternal; a nil error reports "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsCredentialFailure reports whether err means the enrollment credential can
// no longer be used.
func IsCredentialFailure(err error) bool {
	k := KindOf(err)
	return k == KindUnauthorized || k == KindForbidden
}

// Retryable reports whether the next scheduled pass may succeed without
// user intervention.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindServiceUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status code used by the inbound HTTP surface.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindMalformedResponse:
		return http.StatusBadGateway
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
