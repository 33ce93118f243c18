package resilience

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"strings"
	"syscall"

	"github.com/user/district-metrics/internal/domain"
)

// Classification buckets an error for retry and circuit-breaker decisions.
type Classification int

const (
	// ClassPermanent errors propagate immediately; retrying cannot help.
	ClassPermanent Classification = iota
	// ClassRetryable errors are transient and worth another attempt.
	ClassRetryable
	// ClassNotFound marks an absent resource, distinct from failure.
	ClassNotFound
)

func (c Classification) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// httpStatuser is implemented by errors that carry an upstream HTTP status.
type httpStatuser interface {
	HTTPStatus() int
}

// coder is implemented by errors that carry a machine-readable code string.
type coder interface {
	ErrorCode() string
}

var retryableCodes = map[string]bool{
	"ECONNRESET":         true,
	"ECONNREFUSED":       true,
	"ECONNABORTED":       true,
	"ENOTFOUND":          true, // DNS lookup failure, not a missing resource
	"ETIMEDOUT":          true,
	"EPIPE":              true,
	"connection_reset":   true,
	"connection_refused": true,
	"timeout":            true,
	"temporary_failure":  true,
	"rate_limit":         true,
}

var permanentCodes = map[string]bool{
	"EACCES":            true,
	"EPERM":             true,
	"ENOENT":            true,
	"permission_denied": true,
	"invalid_argument":  true,
}

var retryableFragments = []string{
	"timeout",
	"timed out",
	"unavailable",
	"deadline",
	"connection reset",
	"connection refused",
	"try again",
	"too many requests",
	"temporarily",
}

var permanentFragments = []string{
	"forbidden",
	"unauthorized",
	"invalid",
	"malformed",
	"permission denied",
}

var notFoundFragments = []string{
	"not found",
	"no such",
	"does not exist",
}

// Classify buckets an arbitrary error using three precedence tiers: numeric
// HTTP status first, then known error codes, then message substrings. The
// first tier that produces a verdict wins; lower tiers are never consulted
// after a match. Errors matching nothing are permanent.
func Classify(err error) Classification {
	if err == nil {
		return ClassPermanent
	}

	// Tier 1: numeric status.
	var hs httpStatuser
	if errors.As(err, &hs) {
		if code := hs.HTTPStatus(); code != 0 {
			return classifyStatus(code)
		}
	}

	// Tier 2: structured codes and well-known sentinel errors.
	if c, ok := classifyCode(err); ok {
		return c
	}

	// Tier 3: message fragments.
	return classifyMessage(err.Error())
}

// Retryable reports whether the error is worth another attempt.
func Retryable(err error) bool {
	return Classify(err) == ClassRetryable
}

func classifyStatus(code int) Classification {
	switch {
	case code == 404:
		return ClassNotFound
	case code == 408 || code == 429 || code >= 500:
		return ClassRetryable
	default:
		return ClassPermanent
	}
}

func classifyCode(err error) (Classification, bool) {
	var c coder
	if errors.As(err, &c) {
		code := c.ErrorCode()
		if retryableCodes[code] {
			return ClassRetryable, true
		}
		if permanentCodes[code] {
			return ClassPermanent, true
		}
	}

	// TransientExternalError is retryable by contract: the fetch layer wraps
	// transport-level failures in it, and their causes (EOF, DNS lookup text)
	// carry no reliable signal of their own.
	var transientErr *domain.TransientExternalError
	if errors.As(err, &transientErr) {
		return ClassRetryable, true
	}

	var storageErr *domain.StorageOperationError
	if errors.As(err, &storageErr) {
		if storageErr.Retryable {
			return ClassRetryable, true
		}
		// Fall through: the wrapped cause may still identify not-found.
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ClassNotFound, true
	case errors.Is(err, context.DeadlineExceeded):
		return ClassRetryable, true
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return ClassRetryable, true
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return ClassPermanent, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetryable, true
	}

	return ClassPermanent, false
}

func classifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)
	for _, f := range retryableFragments {
		if strings.Contains(lower, f) {
			return ClassRetryable
		}
	}
	for _, f := range permanentFragments {
		if strings.Contains(lower, f) {
			return ClassPermanent
		}
	}
	for _, f := range notFoundFragments {
		if strings.Contains(lower, f) {
			return ClassNotFound
		}
	}
	return ClassPermanent
}
