package hrvstr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrTierRestriction     = errors.New("hrvstr: feature not available at this tier")
	ErrTierLimitExceeded   = errors.New("hrvstr: too many entities requested for this tier")
	ErrInsufficientCredits = errors.New("hrvstr: insufficient credits")
	ErrRateLimited         = errors.New("hrvstr: source rate limited")
	ErrSourceUnavailable   = errors.New("hrvstr: source unavailable")
	ErrAllSourcesFailed    = errors.New("hrvstr: all sources failed")
	ErrSerialization       = errors.New("hrvstr: payload serialization failed")
	ErrInternal            = errors.New("hrvstr: internal storage error")
	ErrNotFound            = errors.New("hrvstr: not found")
	ErrInvalidRequest      = errors.New("hrvstr: invalid request")
)

// Machine-readable codes for the transport layer. The HTTP layer maps
// these to status codes deterministically.
const (
	CodeTierRestriction     = "TIER_RESTRICTION"
	CodeTierLimitExceeded   = "TIER_LIMIT_EXCEEDED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeRateLimited         = "RATE_LIMITED"
	CodeSourceUnavailable   = "SOURCE_UNAVAILABLE"
	CodeAllSourcesFailed    = "ALL_SOURCES_FAILED"
	CodeSerialization       = "SERIALIZATION_ERROR"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeCancelled           = "CANCELLED"
	CodeInternal            = "INTERNAL_ERROR"
)

// CodeOf maps an error to its machine-readable code. Unclassified
// errors report as INTERNAL_ERROR.
func CodeOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTierRestriction):
		return CodeTierRestriction
	case errors.Is(err, ErrTierLimitExceeded):
		return CodeTierLimitExceeded
	case errors.Is(err, ErrInsufficientCredits):
		return CodeInsufficientCredits
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrAllSourcesFailed):
		return CodeAllSourcesFailed
	case errors.Is(err, ErrSourceUnavailable):
		return CodeSourceUnavailable
	case errors.Is(err, ErrSerialization):
		return CodeSerialization
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCancelled
	default:
		return CodeInternal
	}
}

// ArbiterError wraps an error with request context.
type ArbiterError struct {
	Err      error
	UserID   string
	DataType DataType
}

func (e *ArbiterError) Error() string {
	return fmt.Sprintf("hrvstr: user=%s data_type=%s: %v", e.UserID, e.DataType, e.Err)
}

func (e *ArbiterError) Unwrap() error { return e.Err }

// Code returns the machine-readable code of the wrapped error.
func (e *ArbiterError) Code() string { return CodeOf(e.Err) }

// InsufficientCreditsError reports a rejected debit along with the
// amounts the caller needs to render the failure.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("hrvstr: insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// TierLimitError reports a request that exceeds the tier's per-request
// entity budget.
type TierLimitError struct {
	Tier      Tier
	Requested int
	Limit     int
}

func (e *TierLimitError) Error() string {
	return fmt.Sprintf("hrvstr: tier %s allows %d tickers per request, got %d", e.Tier, e.Limit, e.Requested)
}

func (e *TierLimitError) Unwrap() error { return ErrTierLimitExceeded }

// RateLimitedError reports a denied acquisition on a source's request
// budget. RetryAfter is a hint, not a reservation.
type RateLimitedError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("hrvstr: source %s rate limited, retry after %s", e.Source, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// SourceError is the failure variant of a source fetch, carrying a
// classification instead of a score.
type SourceError struct {
	Source string
	Code   string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("hrvstr: source %s failed (%s): %v", e.Source, e.Code, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsFatal returns true if the error is a request-level rejection that
// must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrTierRestriction) ||
		errors.Is(err, ErrTierLimitExceeded) ||
		errors.Is(err, ErrInsufficientCredits) ||
		errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the error is transient at the source
// level and worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrSourceUnavailable)
}
