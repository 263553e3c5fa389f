package registry

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a failed lookup once the per-request retry budget is
// spent.
type ErrorKind int

const (
	// Transient covers network errors, request timeouts, retryable HTTP
	// statuses, and an open circuit breaker.
	Transient ErrorKind = iota
	// Permanent covers non-retryable statuses and malformed payloads.
	Permanent
)

// LookupError is the error type returned by the registry clients.
type LookupError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *LookupError) Error() string { return e.Msg }

func (e *LookupError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient lookup failure.
func IsTransient(err error) bool {
	var le *LookupError
	return errors.As(err, &le) && le.Kind == Transient
}

// retryableStatus reports whether an HTTP status is worth another attempt
// within the same logical lookup.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// parseRetryAfter reads a Retry-After header as delay seconds or an HTTP
// date.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// truncateForLog keeps error messages bounded when a response body is echoed
// back into them.
func truncateForLog(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 300 {
		return s
	}
	return s[:300] + "..."
}
