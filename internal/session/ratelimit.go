package session

import "time"

// rateLimiter is a token bucket refilled one token per interval, up to burst.
// It is owned by a single connection goroutine.
type rateLimiter struct {
	burst    int
	interval time.Duration
	tokens   int
	last     time.Time
}

// newRateLimiter returns nil, which allows everything, when limiting is disabled.
func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 || interval <= 0 {
		return nil
	}
	return &rateLimiter{
		burst:    burst,
		interval: interval,
		tokens:   burst,
	}
}

func (r *rateLimiter) allow(now time.Time) bool {
	if r == nil {
		return true
	}
	if r.last.IsZero() {
		r.last = now
	}
	if elapsed := now.Sub(r.last); elapsed >= r.interval {
		n := int(elapsed / r.interval)
		r.tokens = min(r.burst, r.tokens+n)
		r.last = r.last.Add(time.Duration(n) * r.interval)
	}
	if r.tokens == 0 {
		return false
	}
	r.tokens--
	return true
}
