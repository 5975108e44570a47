package cache

import (
	"context"
	"errors"
	"time"

	"github.com/matzehuels/controlsphere/pkg/httputil"
)

// Sentinel errors for caching operations.
var (
	// ErrUnavailable is returned when a remote backend cannot be reached.
	ErrUnavailable = errors.New("cache backend unavailable")

	// ErrCacheMiss is returned by helpers that treat a miss as an error.
	ErrCacheMiss = errors.New("cache miss")
)

// RetryableError marks a transient backend failure.
type RetryableError = httputil.RetryableError

// Retryable wraps err as a [RetryableError]. A nil err stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is marked as transient.
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// RetryWithBackoff connects to a backend with three attempts, one second
// apart and doubling.
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return httputil.Retry(ctx, 3, time.Second, fn)
}
