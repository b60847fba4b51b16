package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Category classifies a fetch failure so callers can pick retry vs.
// fail-fast policy without re-parsing raw transport errors.
type Category string

const (
	CategoryTimeout        Category = "timeout"
	CategoryRateLimited    Category = "rate-limited"
	CategoryInvalidAccount Category = "invalid-account"
	CategoryNetwork        Category = "network"
	CategoryUnknown        Category = "unknown"
)

// FetchError wraps a transport error with its category and the pool it
// concerns.
type FetchError struct {
	Pool     string
	Category Category
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch pool %s: %s: %v", e.Pool, e.Category, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient transport trouble.
func (e *FetchError) Retryable() bool {
	switch e.Category {
	case CategoryTimeout, CategoryRateLimited, CategoryNetwork:
		return true
	}
	return false
}

// Categorize derives a Category from an error by message inspection. RPC
// client errors do not expose structured codes, so this mirrors what the
// messages actually say.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded"):
		return CategoryTimeout
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return CategoryRateLimited
	case strings.Contains(msg, "could not find account") || strings.Contains(msg, "account not found") || strings.Contains(msg, "invalid param"):
		return CategoryInvalidAccount
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "no such host") || strings.Contains(msg, "eof"):
		return CategoryNetwork
	default:
		return CategoryUnknown
	}
}
