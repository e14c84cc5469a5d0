package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies backend failures so retries and circuit breakers treat
// every provider the same way.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindUnauthorized      ErrorKind = "unauthorized"
	KindTimeout           ErrorKind = "timeout"
	KindNetwork           ErrorKind = "network"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// BackendError is returned by every remote backend.
type BackendError struct {
	Backend    string
	Kind       ErrorKind
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError checks if an error is a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

// KindOf returns the error kind, classifying foreign errors on the fly.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return transportKind(err)
}

// StatusKind maps a provider HTTP status to an error kind.
func StatusKind(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusPaymentRequired:
		return KindQuotaExceeded
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindNetwork
	default:
		return KindMalformedResponse
	}
}

// transportKind classifies errors that happened before a response arrived.
func transportKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func statusError(backend string, code int, body string) *BackendError {
	return &BackendError{
		Backend:    backend,
		Kind:       StatusKind(code),
		StatusCode: code,
		Err:        fmt.Errorf("API error: %s", truncate(body, 300)),
	}
}

func transportError(backend string, err error) *BackendError {
	return &BackendError{Backend: backend, Kind: transportKind(err), Err: err}
}

func malformed(backend string, format string, args ...any) *BackendError {
	return &BackendError{Backend: backend, Kind: KindMalformedResponse, Err: fmt.Errorf(format, args...)}
}
