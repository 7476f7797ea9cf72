package openfinance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ofbconnect/internal/shared/apperr"
)

func TestRetryPolicy_Decide(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	rateLimited := &apperr.BankAPIError{Kind: apperr.KindRateLimited, SafeToRetry: true}
	server := &apperr.BankAPIError{Kind: apperr.KindServerError}
	safeServer := &apperr.BankAPIError{Kind: apperr.KindServerError, SafeToRetry: true}
	slowDown := &apperr.BankAPIError{Kind: apperr.KindRateLimited, SafeToRetry: true, RetryAfter: 800 * time.Millisecond}
	tooSlow := &apperr.BankAPIError{Kind: apperr.KindRateLimited, SafeToRetry: true, RetryAfter: time.Hour}

	tests := []struct {
		name       string
		attempt    int
		err        error
		idempotent bool
		wantRetry  bool
		wantDelay  time.Duration
	}{
		{"first rate limit", 1, rateLimited, true, true, 100 * time.Millisecond},
		{"second rate limit doubles", 2, rateLimited, true, true, 200 * time.Millisecond},
		{"third attempt", 3, server, true, true, 400 * time.Millisecond},
		{"bound reached", 4, server, true, false, 0},
		{"retry-after wins", 1, slowDown, true, true, 800 * time.Millisecond},
		{"retry-after beyond max delay gives up", 1, tooSlow, true, false, 0},
		{"timeout", 1, &apperr.BankAPIError{Kind: apperr.KindTimeout}, true, true, 100 * time.Millisecond},
		{"certificate never", 1, &apperr.BankAPIError{Kind: apperr.KindCertificate}, true, false, 0},
		{"validation never", 1, &apperr.BankAPIError{Kind: apperr.KindValidation}, true, false, 0},
		{"plain error", 1, errors.New("boom"), true, false, 0},
		{"payment without safe signal", 1, server, false, false, 0},
		{"payment marked safe", 1, safeServer, false, true, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, delay := p.Decide(tt.attempt, tt.err, tt.idempotent)
			assert.Equal(t, tt.wantRetry, retry)
			assert.Equal(t, tt.wantDelay, delay)
		})
	}
}

func TestRetryPolicy_DelayIsCapped(t *testing.T) {
	p := RetryPolicy{MaxRetries: 10, BaseDelay: 300 * time.Millisecond, MaxDelay: time.Second}
	_, delay := p.Decide(8, &apperr.BankAPIError{Kind: apperr.KindServerError}, true)
	assert.Equal(t, time.Second, delay)
}
