package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
)

var _ driven.NeighborCache = (*NeighborCache)(nil)

const (
	neighborKeyPrefix = "kb:nb:"
	reverseKeyPrefix  = "kb:nbrev:"
)

// NeighborCache holds per-document neighbour lists with a TTL. Each
// entry kb:nb:{id} is accompanied by reverse-index sets kb:nbrev:{id}
// listing the entries that mention document {id}, so invalidating a
// document evicts every list it appears in, not just its own.
type NeighborCache struct {
	client *redis.Client
}

// NewNeighborCache connects to Redis for the neighbour cache.
func NewNeighborCache(ctx context.Context, cfg Config) (*NeighborCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.QueryTimeout,
		ReadTimeout:  cfg.QueryTimeout,
		WriteTimeout: cfg.QueryTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return &NeighborCache{client: client}, nil
}

// Get returns the cached entry or domain.ErrNotFound on miss or expiry.
func (c *NeighborCache) Get(ctx context.Context, documentID string) (*domain.NeighborEntry, error) {
	raw, err := c.client.Get(ctx, neighborKeyPrefix+documentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	var entry domain.NeighborEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("%w: decoding entry: %v", domain.ErrCacheUnavailable, err)
	}
	return &entry, nil
}

// Put stores an entry and maintains the reverse index. An entry carrying
// an older generation than the cached one is dropped silently.
func (c *NeighborCache) Put(ctx context.Context, entry *domain.NeighborEntry, ttl time.Duration) error {
	current, err := c.Get(ctx, entry.DocumentID)
	if err == nil && current.Generation > entry.Generation {
		return nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: encoding entry: %v", domain.ErrCacheUnavailable, err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, neighborKeyPrefix+entry.DocumentID, raw, ttl)
	for _, n := range entry.Neighbors {
		revKey := reverseKeyPrefix + n.DocumentID
		pipe.SAdd(ctx, revKey, entry.DocumentID)
		// Reverse sets outlive their entries slightly; a stale member
		// just causes one extra no-op delete on invalidation.
		pipe.Expire(ctx, revKey, ttl*2)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// Invalidate removes the document's own entry and every cached entry
// listing it as a neighbour.
func (c *NeighborCache) Invalidate(ctx context.Context, documentID string) error {
	revKey := reverseKeyPrefix + documentID
	dependents, err := c.client.SMembers(ctx, revKey).Result()
	if err != nil {
		return fmt.Errorf("%w: listing dependents: %v", domain.ErrCacheUnavailable, err)
	}

	keys := []string{neighborKeyPrefix + documentID, revKey}
	for _, dep := range dependents {
		keys = append(keys, neighborKeyPrefix+dep)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// Close releases the client.
func (c *NeighborCache) Close() error {
	return c.client.Close()
}
