package channel

import "time"

// Backoff returns the delay before reconnect attempt n (1-based):
// base·2^(n-1), capped at max.
func Backoff(n int, base, max time.Duration) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return min(d, max)
}
