package timeline

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/logflow/jsonimport/internal/model"
)

// RedisConfig configures the Redis-backed timeline store.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to the hash key (e.g., "jsonimport:timelines:")
	Prefix string

	// Run scopes the mapping so separate runs never share ids.
	Run string

	// TTL is applied to the hash after every write (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Prefix:  "jsonimport:timelines:",
		TTL:     24 * time.Hour,
		Timeout: 5 * time.Second,
	}
}

// RedisStore keeps the signature to id map in a Redis hash so several
// importer processes working on one run agree on timeline ids.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) key() string {
	if s.cfg.Run == "" {
		return s.cfg.Prefix + "default"
	}
	return s.cfg.Prefix + s.cfg.Run
}

// ResolveOrCreate stores candidate under sig unless another writer got
// there first, and returns whichever id won.
func (s *RedisStore) ResolveOrCreate(ctx context.Context, sig string, candidate model.TimelineID) (model.TimelineID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	key := s.key()
	created, err := s.client.HSetNX(ctx, key, sig, candidate.String()).Result()
	if err != nil {
		return model.TimelineID{}, fmt.Errorf("failed to store timeline id: %w", err)
	}
	if created {
		if s.cfg.TTL > 0 {
			if err := s.client.Expire(ctx, key, s.cfg.TTL).Err(); err != nil {
				return model.TimelineID{}, fmt.Errorf("failed to set ttl on %s: %w", key, err)
			}
		}
		return candidate, nil
	}

	existing, err := s.client.HGet(ctx, key, sig).Result()
	if err != nil {
		return model.TimelineID{}, fmt.Errorf("failed to load timeline id: %w", err)
	}
	id, err := model.ParseTimelineID(existing)
	if err != nil {
		return model.TimelineID{}, fmt.Errorf("corrupt timeline id %q in Redis: %w", existing, err)
	}
	return id, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
