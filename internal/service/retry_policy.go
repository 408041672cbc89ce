package service

import "time"

// RetryPolicy bounds retries at both levels: automatic retries of a transient
// error inside one stage, and caller-initiated retries of a failed job.
type RetryPolicy struct {
	StageRetries    int
	StageRetryDelay time.Duration

	MaxJobRetries int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		StageRetries:    3,
		StageRetryDelay: 500 * time.Millisecond,
		MaxJobRetries:   5,
		BackoffBase:     30 * time.Second,
		BackoffMax:      10 * time.Minute,
	}
}

// Cooldown is the minimum wait after a failure before the retry that would
// bring RetryCount above retryCount is accepted: base * 2^retryCount, capped.
func (p RetryPolicy) Cooldown(retryCount int) time.Duration {
	if p.BackoffBase <= 0 {
		return 0
	}
	d := p.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
