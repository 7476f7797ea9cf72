package openfinance

import (
	"time"

	"ofbconnect/internal/shared/apperr"
)

// RetryPolicy bounds the retries of a bank call.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy allows three retries starting at 500ms.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Decide reports whether the call that failed on attempt (1-based) with err may be
// tried again and how long to wait first. Non-idempotent calls are retried only
// when the bank marked the failure safe to retry. Certificate and validation
// errors are never retried. A Retry-After longer than MaxDelay ends the retries
// so the caller sees the bank's wait instead of blocking on it.
func (p RetryPolicy) Decide(attempt int, err error, idempotent bool) (bool, time.Duration) {
	apiErr, ok := apperr.AsBankAPIError(err)
	if !ok || !apiErr.Transient() || attempt > p.MaxRetries {
		return false, 0
	}
	if !idempotent && !apiErr.SafeToRetry {
		return false, 0
	}

	delay := p.BaseDelay
	for i := 1; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if apiErr.RetryAfter > delay {
		if p.MaxDelay > 0 && apiErr.RetryAfter > p.MaxDelay {
			return false, 0
		}
		delay = apiErr.RetryAfter
	}
	return true, delay
}
