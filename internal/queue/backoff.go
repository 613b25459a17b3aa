package queue

import "time"

// RetryDelay computes the backoff before redelivery attempt n (1-based):
// base doubled per attempt, capped at max. Attempt values below 1 are
// treated as 1.
func RetryDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	// Shifting far enough always hits the cap; bail out before overflow.
	if attempt > 32 {
		return max
	}
	d := base << uint(attempt-1)
	if d <= 0 || d > max {
		return max
	}
	return d
}
