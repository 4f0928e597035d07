package backoff

import (
	"time"
)

const (
	done time.Duration = -1
)

// Retrier hands out successive backoff intervals for one retried call.
type Retrier interface {
	NextBackOff() time.Duration
}

// NewRetrier creates a Retrier over the policy, starting at attempt one.
func NewRetrier(policy RetryPolicy) Retrier {
	return &retrierImpl{
		policy:         policy,
		currentAttempt: 1,
	}
}

type retrierImpl struct {
	policy         RetryPolicy
	currentAttempt int
}

func (r *retrierImpl) NextBackOff() time.Duration {
	nextInterval := r.policy.CalculateNextDelay(r.currentAttempt)

	r.currentAttempt++
	return nextInterval
}

// RetryPolicy decides the delay before a given attempt, or done when the
// attempts are exhausted.
type RetryPolicy interface {
	CalculateNextDelay(attempts int) time.Duration
}

// NewRetryPolicy creates a fixed-interval policy with a bounded number of
// attempts.
func NewRetryPolicy(maxAttempts int, retryInterval time.Duration) RetryPolicy {
	return &retryPolicy{
		maxAttempts:   maxAttempts,
		retryInterval: retryInterval,
	}
}

type retryPolicy struct {
	maxAttempts   int
	retryInterval time.Duration
}

func (p *retryPolicy) CalculateNextDelay(attempts int) time.Duration {
	if attempts >= p.maxAttempts {
		return done
	}
	return p.retryInterval
}
