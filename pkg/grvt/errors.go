package grvt

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is the typed error envelope the exchange returns on any failed
// request. Code and Status keep the wire values so callers can classify
// without string matching where the exchange gives structured data.
type APIError struct {
	Code    int    `json:"code"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grvt: api error code=%d status=%d message=%s", e.Code, e.Status, e.Message)
}

// Config/validation errors raised before any request is made.
var (
	ErrMissingAPIKey     = errors.New("grvt: api key is required")
	ErrMissingPrivateKey = errors.New("grvt: private key is required")
	ErrMissingAccountID  = errors.New("grvt: trading account id is required")
	ErrEmptyBook         = errors.New("grvt: order book has no usable levels")
)

// IsAuthError reports whether err looks like an expired or invalid session.
// The exchange signals this with HTTP 401, its own code 1000, or an
// authentication message; the caller is expected to rebuild the session and
// retry once.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status == 401 || apiErr.Code == 1000 {
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "authenticate") || strings.Contains(msg, "unauthorized")
}

// IsPostOnlyViolation reports whether err is the exchange rejecting a
// post-only order because it would have crossed the book. These are retried
// with fresh pricing rather than alerted.
func IsPostOnlyViolation(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	for _, kw := range []string{"post", "maker", "would match", "taker"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// IsOrderGone reports whether a cancel failed only because the order is
// already closed or unknown; for cleanup purposes that is a success.
func IsOrderGone(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	for _, kw := range []string{"not found", "does not exist", "already closed", "already canceled", "already cancelled"} {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
