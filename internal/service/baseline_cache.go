package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"persona-eval/internal/domain"
)

// BaselineCache guarda las medias de la condicion baseline por (experimento, seed, order).
type BaselineCache interface {
	Put(ctx context.Context, experimentID string, seed, order *int, means domain.TraitValues) error
	Get(ctx context.Context, experimentID string, seed, order *int) (domain.TraitValues, bool, error)
}

func baselineKey(experimentID string, seed, order *int) string {
	return fmt.Sprintf("%s:%s:%s", experimentID, domain.OptionalInt(seed), domain.OptionalInt(order))
}

type memoryBaselineCache struct {
	mu    sync.Mutex
	items map[string]domain.TraitValues
}

func NewMemoryBaselineCache() BaselineCache {
	return &memoryBaselineCache{items: make(map[string]domain.TraitValues)}
}

func (c *memoryBaselineCache) Put(_ context.Context, experimentID string, seed, order *int, means domain.TraitValues) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make(domain.TraitValues, len(means))
	for k, v := range means {
		cp[k] = v
	}
	c.items[baselineKey(experimentID, seed, order)] = cp
	return nil
}

func (c *memoryBaselineCache) Get(_ context.Context, experimentID string, seed, order *int) (domain.TraitValues, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[baselineKey(experimentID, seed, order)]
	return v, ok, nil
}

type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisBaselineCache struct {
	client redisKV
	prefix string
	ttl    time.Duration
}

// NewRedisBaselineCache guarda las medias como JSON bajo mpi:baseline:<exp>:<seed>:<order>.
func NewRedisBaselineCache(client *redis.Client, ttl time.Duration) BaselineCache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &redisBaselineCache{
		client: client,
		prefix: "mpi:baseline:",
		ttl:    ttl,
	}
}

func (c *redisBaselineCache) Put(ctx context.Context, experimentID string, seed, order *int, means domain.TraitValues) error {
	payload, err := json.Marshal(means)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := c.client.Set(ctx, c.prefix+baselineKey(experimentID, seed, order), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set baseline: %w", err)
	}
	return nil
}

func (c *redisBaselineCache) Get(ctx context.Context, experimentID string, seed, order *int) (domain.TraitValues, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	raw, err := c.client.Get(ctx, c.prefix+baselineKey(experimentID, seed, order)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get baseline: %w", err)
	}
	var means domain.TraitValues
	if err := json.Unmarshal(raw, &means); err != nil {
		return nil, false, fmt.Errorf("unmarshal baseline: %w", err)
	}
	return means, true, nil
}
