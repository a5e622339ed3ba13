// Package ratelimit caps per-tenant request volume. Budget policies bound
// spend; this bounds how fast a tenant can burn through it.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type Limiter struct {
	store extratelimit.Limiter
}

// NewLimiter builds a redis-backed fixed-window limiter allowing defaultRPM
// routed requests per tenant per minute.
func NewLimiter(rdb *redis.Client, defaultRPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultRPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

// Allow consumes one slot of the tenant's window.
func (l *Limiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	res, err := l.store.Allow(ctx, fmt.Sprintf("ratelimit:tenant:%s", tenantID))
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
