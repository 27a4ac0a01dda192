package bus

import "time"

// tokenBucket caps per-subscription delivery at max_events_per_minute.
// Callers hold the bus lock, so no internal locking is needed.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(eventsPerMinute int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(eventsPerMinute),
		maxTokens:  float64(eventsPerMinute),
		refillRate: float64(eventsPerMinute) / 60.0,
	}
}

func (tb *tokenBucket) allow(now time.Time) bool {
	if !tb.lastRefill.IsZero() {
		elapsed := now.Sub(tb.lastRefill).Seconds()
		tb.tokens += elapsed * tb.refillRate
		if tb.tokens > tb.maxTokens {
			tb.tokens = tb.maxTokens
		}
	}
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}
