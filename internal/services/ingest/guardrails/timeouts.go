// Package guardrails holds cross cutting safety helpers for ingest runs
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for a single ingestion window.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Window is the overall time budget for one (entity, source, window) task
	Window time.Duration

	// Fetch caps the provider fetch step
	Fetch time.Duration

	// DB caps document store writes and checkpoint updates
	DB time.Duration
}

// WithWindow returns a context limited by the window budget without extending any parent deadline
func WithWindow(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Window)
}

// ForFetch returns a sub context for the fetch phase bounded by Fetch and any remaining parent budget
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Fetch)
}

// ForDB returns a sub context for the write phase bounded by DB and any remaining parent budget
func ForDB(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.DB)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of the requested duration and any parent remainder.
// Never extends the parent deadline.
// When d is zero it returns a simple cancelable child inheriting the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
