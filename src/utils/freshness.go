package utils

import "time"

// WithinFreshness reports whether ts falls inside the acceptance window
// around now. The window is symmetric so modest clock skew between the
// sender and this host does not reject live signals.
func WithinFreshness(ts, now time.Time, window time.Duration) bool {
	if ts.IsZero() {
		return false
	}
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	return age <= window
}
