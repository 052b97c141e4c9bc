// Package redis keeps authorization states and cached forecasts in Redis,
// relying on key expiry instead of sweeping.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/avalanche-forecast-enricher/internal/domain"
)

const (
	statePrefix = "avy:state:"
	cachePrefix = "avy:cache:"
)

// Connect parses a redis:// or rediss:// URL and verifies the server answers.
func Connect(ctx context.Context, rawURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// StateStore stores each state under its own key with a matching TTL.
type StateStore struct {
	client goredis.UniversalClient
}

// NewStateStore wraps client.
func NewStateStore(client goredis.UniversalClient) *StateStore {
	return &StateStore{client: client}
}

func (s *StateStore) IssueState(ctx context.Context, state domain.AuthorizationState) error {
	ttl := state.ExpiresAt.Sub(state.IssuedAt)
	if ttl <= 0 {
		return fmt.Errorf("state ttl must be positive, got %s", ttl)
	}
	value := strconv.FormatInt(state.ExpiresAt.UnixMilli(), 10)

	ok, err := s.client.SetNX(ctx, statePrefix+state.Token, value, ttl).Result()
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	if !ok {
		return errors.New("state token already issued")
	}
	return nil
}

func (s *StateStore) ConsumeState(ctx context.Context, token string, now time.Time) error {
	value, err := s.client.GetDel(ctx, statePrefix+token).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.ErrAuthStateInvalid
	}
	if err != nil {
		return fmt.Errorf("consume state: %w", err)
	}

	expiresAt, err := strconv.ParseInt(value, 10, 64)
	if err != nil || now.UnixMilli() >= expiresAt {
		return domain.ErrAuthStateInvalid
	}
	return nil
}

func (s *StateStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *StateStore) Close() error { return s.client.Close() }

// Cache stores byte values under a namespaced key.
type Cache struct {
	client goredis.UniversalClient
}

// NewCache wraps client.
func NewCache(client goredis.UniversalClient) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return b, true, nil
}

// Set stores value. A non-positive ttl keeps the key until evicted.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, cachePrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Cache) Close() error { return c.client.Close() }
