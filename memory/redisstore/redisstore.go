// Package redisstore archives collapsed steps in Redis lists, one list per loop.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/memory"
)

// Config configures the Redis connection.
type Config struct {
	Addr      string        `yaml:"addr" json:"addr"`
	Password  string        `yaml:"password" json:"password"`
	DB        int           `yaml:"db" json:"db"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	TTL       time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns a local default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "agentloop:archive:",
		TTL:       24 * time.Hour,
	}
}

// Archive implements core.Archive on a Redis client.
type Archive struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

var _ core.Archive = (*Archive)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Archive, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: failed to connect to redis: %w", err)
	}

	a := NewFromClient(client, cfg.KeyPrefix, cfg.TTL)
	a.owned = true
	return a, nil
}

// NewFromClient wraps an existing client. Close does not close it.
func NewFromClient(client *redis.Client, prefix string, ttl time.Duration) *Archive {
	if prefix == "" {
		prefix = DefaultConfig().KeyPrefix
	}
	return &Archive{client: client, prefix: prefix, ttl: ttl}
}

func (a *Archive) key(loopID string) string { return a.prefix + loopID }

// Store appends steps to the loop's list and refreshes its TTL.
func (a *Archive) Store(ctx context.Context, loopID string, steps []core.ArchivedStep) error {
	if len(steps) == 0 {
		return nil
	}
	values := make([]any, 0, len(steps))
	for _, s := range steps {
		b, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("redisstore: marshal step %d: %w", s.Index, err)
		}
		values = append(values, b)
	}

	key := a.key(loopID)
	pipe := a.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if a.ttl > 0 {
		pipe.Expire(ctx, key, a.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: store: %w", err)
	}
	return nil
}

// List returns the archived steps ordered by index.
func (a *Archive) List(ctx context.Context, loopID string) ([]core.ArchivedStep, error) {
	raw, err := a.client.LRange(ctx, a.key(loopID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list: %w", err)
	}
	out := make([]core.ArchivedStep, 0, len(raw))
	for _, r := range raw {
		var s core.ArchivedStep
		if err := json.Unmarshal([]byte(r), &s); err != nil {
			return nil, fmt.Errorf("redisstore: decode: %w", err)
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// Search scans the loop's list, most recent first.
func (a *Archive) Search(ctx context.Context, loopID, query string, limit int) ([]core.SearchResult, error) {
	steps, err := a.List(ctx, loopID)
	if err != nil {
		return nil, err
	}
	results := make([]core.SearchResult, 0)
	for i := len(steps) - 1; i >= 0; i-- {
		if limit > 0 && len(results) >= limit {
			break
		}
		if memory.MatchArchived(steps[i], query) {
			results = append(results, memory.SearchResultFor(steps[i]))
		}
	}
	return results, nil
}

// Close releases the client when the archive created it.
func (a *Archive) Close() error {
	if !a.owned {
		return nil
	}
	return a.client.Close()
}
