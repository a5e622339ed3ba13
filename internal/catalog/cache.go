package catalog

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheTTL = 5 * time.Minute

// CachedStore wraps a Store with a Redis read cache. The catalog is
// read-mostly, so tool lookups sit on the hot path of every routed request
// while writes are rare admin operations.
type CachedStore struct {
	inner Store
	cache *redis.Client
}

func NewCachedStore(inner Store, cache *redis.Client) *CachedStore {
	return &CachedStore{inner: inner, cache: cache}
}

func toolKey(toolID string) string {
	return fmt.Sprintf("catalog:tool:%s", toolID)
}

func (s *CachedStore) Get(ctx context.Context, toolID string) (*Tool, error) {
	var t Tool
	err := s.cache.Get(ctx, toolKey(toolID)).Scan(&t)
	if err == nil {
		return &t, nil
	} else if err != redis.Nil {
		log.Printf("catalog: redis error: %v", err)
	}

	tool, err := s.inner.Get(ctx, toolID)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, toolKey(toolID), tool, cacheTTL).Err()
	return tool, nil
}

// CheapestAlternative is not cached: it only runs when the plan-tier gate
// fires, which is rare compared to plain lookups.
func (s *CachedStore) CheapestAlternative(ctx context.Context, category, excludeID string) (*Tool, error) {
	return s.inner.CheapestAlternative(ctx, category, excludeID)
}

func (s *CachedStore) Create(ctx context.Context, tool *Tool) error {
	if err := s.inner.Create(ctx, tool); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, toolKey(tool.ID)).Err()
	return nil
}
