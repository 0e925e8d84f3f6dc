package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"
)

// RetryPolicy decides whether a failed fetch is attempted again. Attempt is
// zero-based: the first fetch of a task is attempt 0.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy returns a policy allowing maxAttempts fetches per task.
// Zero or negative means a single attempt.
func NewRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry reports whether a fetch that failed with err (and status, when
// a response arrived) deserves another attempt.
func (p RetryPolicy) ShouldRetry(err error, status int, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt+1 >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrBlocked) {
		return true
	}
	switch {
	case status == http.StatusTooManyRequests, status >= 500:
		return true
	case status >= 400:
		return false
	}
	return true
}

// Backoff returns the wait before the given (zero-based) retry attempt,
// half fixed and half jitter.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		return 0
	}
	delay := float64(base) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay/2) + randomJitter(time.Duration(delay)/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
