package ado

import (
	"fmt"
	"net/http"
)

// ErrorKind classifies backend HTTP failures for the error taxonomy:
// transient kinds are retried internally; permanent kinds surface once.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not found"
	KindRateLimited  ErrorKind = "rate limited"
	KindServerError  ErrorKind = "server error"
	KindBadRequest   ErrorKind = "bad request"
)

// StatusError is a non-2xx response from the ADO backend.
type StatusError struct {
	StatusCode int
	Kind       ErrorKind
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ado: %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
}

// Retryable reports whether the failure is transient (429 and 5xx).
func (e *StatusError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindServerError
}

// newStatusError classifies an HTTP status code.
func newStatusError(code int, message string) *StatusError {
	kind := KindBadRequest
	switch {
	case code == http.StatusUnauthorized:
		kind = KindUnauthorized
	case code == http.StatusForbidden:
		kind = KindForbidden
	case code == http.StatusNotFound:
		kind = KindNotFound
	case code == http.StatusTooManyRequests:
		kind = KindRateLimited
	case code >= 500:
		kind = KindServerError
	}
	return &StatusError{StatusCode: code, Kind: kind, Message: message}
}
