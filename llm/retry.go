package llm

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy describes how one provider is retried within a logical call.
// Each provider in a fallback chain gets the full policy.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts per provider.
	MaxAttempts int

	// NewBackoff returns a fresh backoff sequence for one provider.
	NewBackoff func() retry.Backoff

	// IsRetryable decides whether a failed attempt is tried again.
	IsRetryable func(error) bool
}

// DefaultRetryPolicy returns sensible retry defaults for LLM requests:
// three attempts with exponential backoff from 2s capped at 30s and 25%
// jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		NewBackoff:  ExponentialBackoff(2*time.Second, 30*time.Second, 25),
		IsRetryable: IsRetryable,
	}
}

// ExponentialBackoff returns a backoff constructor doubling from base up to
// maxBackoff with the given jitter percentage.
func ExponentialBackoff(base, maxBackoff time.Duration, jitterPercent uint64) func() retry.Backoff {
	return func() retry.Backoff {
		b := retry.NewExponential(base)
		if jitterPercent > 0 {
			b = retry.WithJitterPercent(jitterPercent, b)
		}
		return retry.WithCappedDuration(maxBackoff, b)
	}
}

// ConstantBackoff returns a backoff constructor with a fixed delay.
func ConstantBackoff(d time.Duration) func() retry.Backoff {
	return func() retry.Backoff {
		return retry.NewConstant(d)
	}
}

// backoff builds the bounded sequence for one provider.
func (p RetryPolicy) backoff() retry.Backoff {
	newBackoff := p.NewBackoff
	if newBackoff == nil {
		newBackoff = DefaultRetryPolicy().NewBackoff
	}
	return retry.WithMaxRetries(uint64(p.attempts()-1), newBackoff())
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.IsRetryable == nil {
		return IsRetryable(err)
	}
	return p.IsRetryable(err)
}
