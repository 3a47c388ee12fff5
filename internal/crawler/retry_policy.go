package crawler

import (
	"math"
	"time"
)

// ErrorKind groups errors by how the retry policy treats them.
type ErrorKind int

// Error kinds understood by RetryPolicy.
const (
	KindTransient ErrorKind = iota
	KindUnitTimeout
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindUnitTimeout:
		return "unit_timeout"
	default:
		return "fatal"
	}
}

// Action is the retry decision.
type Action int

// Retry actions.
const (
	ActionGiveUp Action = iota
	ActionRetry
)

// Decision is returned by RetryPolicy.Decide.
type Decision struct {
	Action Action
	Delay  time.Duration
}

// Retry reports whether the decision asks for another attempt.
func (d Decision) Retry() bool {
	return d.Action == ActionRetry
}

// RetryPolicy decides whether a failed attempt is retried and after how long.
// It holds no state and has no side effects.
type RetryPolicy struct {
	MaxAttempts         int
	UnitTimeoutAttempts int
	BaseDelay           time.Duration
	MaxDelay            time.Duration
}

// DefaultRetryPolicy returns the stock policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:         3,
		UnitTimeoutAttempts: 2,
		BaseDelay:           2 * time.Second,
		MaxDelay:            30 * time.Second,
	}
}

// Decide returns the action for an error of kind observed on the given
// 1-based attempt.
func (p RetryPolicy) Decide(kind ErrorKind, attempt int) Decision {
	var limit int
	switch kind {
	case KindTransient:
		limit = p.MaxAttempts
	case KindUnitTimeout:
		limit = p.UnitTimeoutAttempts
	default:
		return Decision{Action: ActionGiveUp}
	}
	if attempt >= limit {
		return Decision{Action: ActionGiveUp}
	}
	return Decision{Action: ActionRetry, Delay: p.Backoff(attempt)}
}

// Backoff returns base * 2^attempt capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
