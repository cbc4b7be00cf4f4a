package schedule

import (
	"time"

	"github.com/ternarybob/expunge/internal/models"
)

const (
	// errorStreakFallback is the consecutive-error count at which backoff
	// stops growing and the flat retry-error interval applies instead.
	errorStreakFallback = 7

	// backoffCapHours bounds the exponential backoff at one week.
	backoffCapHours = 168

	// maxShift guards the shift itself; anything at or past it already
	// exceeds every sane cap.
	maxShift = 30
)

// BackoffHours returns min(2^n, capHours) without ever computing an
// unbounded power. Histories with thousands of error events must not
// overflow the exponent.
func BackoffHours(n, capHours int) int {
	if capHours <= 0 {
		capHours = backoffCapHours
	}
	if n < 1 {
		n = 1
	}
	if n >= maxShift {
		return capHours
	}
	h := 1 << uint(n)
	if h > capHours {
		return capHours
	}
	return h
}

// NextErrorBackoff returns the wait applied after the n-th consecutive
// error for one extracted record. Streaks at or beyond the fallback
// threshold use the broker's flat retry-error interval.
func NextErrorBackoff(consecutiveErrors int, cfg models.ScheduleConfig) time.Duration {
	if consecutiveErrors >= errorStreakFallback {
		return cfg.RetryError()
	}
	return time.Duration(BackoffHours(consecutiveErrors, backoffCapHours)) * time.Hour
}
