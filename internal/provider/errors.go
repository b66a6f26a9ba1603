package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrUnsupportedProvider means no backend is registered for the code.
var ErrUnsupportedProvider = errors.New("unsupported provider code")

// CallError is a failed upstream call. Transient errors (timeout, 5xx,
// upstream rate limiting) are retry candidates; auth failures and
// malformed requests are fatal and surfaced immediately.
type CallError struct {
	Provider   string
	StatusCode int
	Message    string
	Transient  bool
}

func (e *CallError) Error() string {
	return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// NewCallError classifies an upstream HTTP status.
func NewCallError(providerCode string, status int, message string) *CallError {
	return &CallError{
		Provider:   providerCode,
		StatusCode: status,
		Message:    message,
		Transient:  status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500,
	}
}

// IsTransient reports whether err is worth retrying: a transient CallError,
// a network timeout, or a deadline expiry.
func IsTransient(err error) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
