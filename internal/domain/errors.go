package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidQuantity     = errors.New("invalid order quantity")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAllSourcesDown      = errors.New("all sources unavailable")
	ErrContextDone         = errors.New("context cancelled")
	ErrLockHeld            = errors.New("lock already held")
)

// ErrorKind partitions remote-access failures into the taxonomy callers
// dispatch on. Rate limits carry a retry-after hint so callers can back off
// instead of treating them as hard failures.
type ErrorKind string

const (
	KindConfig      ErrorKind = "config"
	KindNetwork     ErrorKind = "network"
	KindRateLimited ErrorKind = "rate_limited"
	KindExchange    ErrorKind = "exchange"
)

// RemoteError is a structured error produced by the remote access layer. It
// replaces text matching on provider messages: callers inspect Kind (or use
// the As/Is helpers) rather than the message string.
type RemoteError struct {
	Kind       ErrorKind
	Endpoint   string
	Code       int // provider-specific error code, 0 if none
	RetryAfter time.Duration
	Err        error
}

func (e *RemoteError) Error() string {
	if e.Kind == KindRateLimited && e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s: %v", e.Endpoint, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err carries a rate-limit kind and returns the
// suggested back-off when it does.
func IsRateLimited(err error) (time.Duration, bool) {
	var re *RemoteError
	if errors.As(err, &re) && re.Kind == KindRateLimited {
		return re.RetryAfter, true
	}
	return 0, false
}

// IsConfigError reports whether err stems from missing or invalid credentials
// or settings. Config errors are surfaced to the operator, not retried.
func IsConfigError(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == KindConfig
}
