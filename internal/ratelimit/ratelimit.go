// Package ratelimit implements sliding-window admission control keyed by
// client identity.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Allowed bool
	// RetryAfter is how long until a slot frees up. Zero when Allowed.
	RetryAfter time.Duration
}

// Admitter decides whether key may make another request within window.
// Attempts are recorded only when admitted.
type Admitter interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration) Decision
}
