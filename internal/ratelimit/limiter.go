// Package ratelimit throttles the pricing endpoints per client.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter decides whether one more event for key fits its budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}
