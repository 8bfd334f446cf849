package engine

import "time"

const (
	defaultMaxRetries = 3
	baseRetryDelay    = time.Minute
	maxRetryDelay     = 4 * time.Hour
)

// RetryPolicy controls how transient send failures are retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: defaultMaxRetries,
		BaseDelay:  baseRetryDelay,
		MaxDelay:   maxRetryDelay,
	}
}

// Delay returns the backoff before the given attempt number (1-based)
// is retried: base doubled per prior attempt, capped at MaxDelay.
func (p RetryPolicy) Delay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := p.BaseDelay
	if delay <= 0 {
		delay = baseRetryDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = maxRetryDelay
	}

	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

// Exhausted reports whether the attempt that just failed was the last one.
func (p RetryPolicy) Exhausted(attemptNumber int) bool {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return attemptNumber >= maxRetries
}
