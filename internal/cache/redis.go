package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jwalitptl/clinic-api/internal/config"
	"github.com/jwalitptl/clinic-api/internal/model"
	"github.com/jwalitptl/clinic-api/pkg/circuitbreaker"
)

// RedisSlotCache shares entries across API nodes. Calls go through a circuit
// breaker so an unreachable Redis fails fast.
type RedisSlotCache struct {
	client *redis.Client
	cb     *circuitbreaker.CircuitBreaker
	opts   Options
}

// NewRedisClient connects and pings Redis.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.MaxRetries = cfg.MaxRetries
	opts.MinRetryBackoff = cfg.RetryBackoff
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func NewRedisSlotCache(client *redis.Client, opts Options) *RedisSlotCache {
	return &RedisSlotCache{
		client: client,
		cb: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "redis-slot-cache",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
		}),
		opts: opts.withDefaults(),
	}
}

// errStaleGeneration marks a Set that lost to a concurrent Invalidate.
var errStaleGeneration = errors.New("slot cache generation changed")

func (c *RedisSlotCache) Get(ctx context.Context, doctorID uuid.UUID, date string) ([]*model.Availability, int64, bool, error) {
	key := Key(c.opts.KeyPrefix, doctorID, date)

	var (
		raw []byte
		gen int64
	)
	err := c.cb.Execute(func() error {
		var dataCmd, genCmd *redis.StringCmd
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			dataCmd = pipe.Get(ctx, key)
			genCmd = pipe.Get(ctx, generationKey(key))
			return nil
		})
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		if gen, err = genCmd.Int64(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		b, err := dataCmd.Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read slot cache: %w", err)
	}
	if raw == nil {
		return nil, gen, false, nil
	}

	var slots []*model.Availability
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, gen, false, fmt.Errorf("failed to decode slot cache entry: %w", err)
	}
	return slots, gen, true, nil
}

// Set writes under WATCH on the generation key, so the write aborts if an
// Invalidate lands between the check and EXEC.
func (c *RedisSlotCache) Set(ctx context.Context, doctorID uuid.UUID, date string, generation int64, slots []*model.Availability) error {
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("failed to encode slot cache entry: %w", err)
	}

	key := Key(c.opts.KeyPrefix, doctorID, date)
	genKey := generationKey(key)

	err = c.cb.Execute(func() error {
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, genKey).Int64()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if current != generation {
				return errStaleGeneration
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, raw, c.opts.TTL)
				return nil
			})
			return err
		}, genKey)
		if errors.Is(err, errStaleGeneration) || errors.Is(err, redis.TxFailedErr) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write slot cache: %w", err)
	}
	return nil
}

func (c *RedisSlotCache) Invalidate(ctx context.Context, doctorID uuid.UUID, date string) error {
	key := Key(c.opts.KeyPrefix, doctorID, date)
	genKey := generationKey(key)

	return c.cb.Execute(func() error {
		_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.Incr(ctx, genKey)
			// outlive any entry written under the previous generation
			pipe.Expire(ctx, genKey, 2*c.opts.TTL)
			return nil
		})
		return err
	})
}
