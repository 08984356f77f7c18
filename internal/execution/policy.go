package execution

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const backoffCoefficient = 2.0

// Policy is the retry contract of one unit of work. MaxAttempts counts the
// first attempt; zero means unlimited, as in Temporal.
type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
}

func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		MaxAttempts:    3,
	}
}

// Backoff returns the delay before retry number n (n >= 1), doubling from
// InitialBackoff and capped at MaxBackoff.
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	delay := p.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	for i := 1; i < n; i++ {
		delay = time.Duration(float64(delay) * backoffCoefficient)
		if p.MaxBackoff > 0 && delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Jitter spreads delay upward by up to a quarter of the base delay, never past
// MaxBackoff. Upward-only jitter keeps successive delays non-decreasing.
func (p Policy) Jitter(delay time.Duration, r float64) time.Duration {
	if r < 0 {
		r = 0
	}
	if r > 1 {
		r = 1
	}
	jittered := delay + time.Duration(float64(delay)*0.25*r)
	if p.MaxBackoff > 0 && jittered > p.MaxBackoff {
		return p.MaxBackoff
	}
	return jittered
}

func (p Policy) RetryPolicy() *temporal.RetryPolicy {
	nonRetryable := make([]string, 0, len(NonRetryableKinds))
	for _, kind := range NonRetryableKinds {
		nonRetryable = append(nonRetryable, string(kind))
	}
	return &temporal.RetryPolicy{
		InitialInterval:        p.InitialBackoff,
		BackoffCoefficient:     backoffCoefficient,
		MaximumInterval:        p.MaxBackoff,
		MaximumAttempts:        int32(p.MaxAttempts),
		NonRetryableErrorTypes: nonRetryable,
	}
}

// Options are the declared timeout and retry policy of an activity.
type Options struct {
	StartToClose time.Duration
	Retry        Policy
}

func (o Options) ActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: o.StartToClose,
		RetryPolicy:         o.Retry.RetryPolicy(),
	}
}
