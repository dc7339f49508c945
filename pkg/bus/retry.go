package bus

import (
	"time"

	"github.com/cuemby/databay/pkg/message"
)

// RetryStrategy selects how the delay between retry attempts grows.
type RetryStrategy string

const (
	RetryConstant    RetryStrategy = "constant"
	RetryLinear      RetryStrategy = "linear"
	RetryExponential RetryStrategy = "exponential"
)

// RetryPolicy governs retries of Transient failures (spec §4.3).
// Logical, Security, and Quota failures are never retried regardless of
// policy; System failures are retried at most once regardless of
// MaxAttempts.
type RetryPolicy struct {
	Strategy    RetryStrategy
	MaxAttempts int
	BaseDelay   time.Duration
}

// NoRetry allows a single attempt for Transient failures. Like every
// policy it still grants System failures their one retry. A zero
// RetryPolicy in DispatchOptions behaves the same way.
var NoRetry = RetryPolicy{Strategy: RetryConstant, MaxAttempts: 1, BaseDelay: 0}

func (p RetryPolicy) delay(attempt int) time.Duration {
	switch p.Strategy {
	case RetryLinear:
		return p.BaseDelay * time.Duration(attempt)
	case RetryExponential:
		return p.BaseDelay * time.Duration(1<<uint(attempt-1))
	default:
		return p.BaseDelay
	}
}

// shouldRetry reports whether another attempt is owed given the
// failure's category and how many attempts have already run.
func shouldRetry(f *message.Failure, attempt int, policy RetryPolicy) bool {
	if f == nil {
		return false
	}
	switch f.Category {
	case message.CategoryTransient:
		return attempt < policy.MaxAttempts
	case message.CategorySystem:
		return attempt < 2 // original attempt plus exactly one retry
	default:
		return false
	}
}
