package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

// FixedWindow is a Limiter over ulule/limiter, used for the high-volume
// read endpoints.
type FixedWindow struct {
	lim *limiter.Limiter
}

// NewFixedWindow builds a limiter over store. rate uses the ulule format,
// e.g. "600-M" for 600 requests per minute.
func NewFixedWindow(store limiter.Store, rate string) (*FixedWindow, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: parse rate %q: %w", rate, err)
	}
	return &FixedWindow{lim: limiter.New(store, parsed)}, nil
}

// NewRedisFixedWindow builds a FixedWindow whose counters live in Redis
// under prefix.
func NewRedisFixedWindow(client *redis.Client, prefix, rate string) (*FixedWindow, error) {
	store, err := limiterredis.NewStoreWithOptions(client, limiter.StoreOptions{Prefix: prefix})
	if err != nil {
		return nil, fmt.Errorf("ratelimit: redis store: %w", err)
	}
	return NewFixedWindow(store, rate)
}

// Allow increments the counter for key.
func (f *FixedWindow) Allow(ctx context.Context, key string) (Decision, error) {
	c, err := f.lim.Get(ctx, key)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:   !c.Reached,
		Limit:     int(c.Limit),
		Remaining: int(c.Remaining),
		Reset:     time.Unix(c.Reset, 0),
	}, nil
}
