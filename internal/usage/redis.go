package usage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// keyTTL outlives the day so a late read after midnight still finds nothing stale.
const keyTTL = 48 * time.Hour

// RedisAPI is the subset of *redis.Client used by RedisStore.
type RedisAPI interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisStore keeps one INCR counter per day.
type RedisStore struct {
	client RedisAPI
	scope  string
	now    Clock
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a store on client.
func NewRedisStore(client RedisAPI, scope string, now Clock) *RedisStore {
	if now == nil {
		now = time.Now
	}
	if scope == "" {
		scope = "default"
	}
	return &RedisStore{client: client, scope: scope, now: now}
}

func (s *RedisStore) key() string {
	return "lynx:usage:" + s.scope + ":" + Today(s.now)
}

func (s *RedisStore) Read(ctx context.Context) (int, error) {
	v, err := s.client.Get(ctx, s.key()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET usage: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("redis usage value %q: %w", v, err)
	}
	return n, nil
}

func (s *RedisStore) Increment(ctx context.Context) error {
	key := s.key()
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis INCR usage: %w", err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, key, keyTTL).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to set usage key expiry")
		}
	}
	return nil
}

// NewRedisClient connects to redisURL (redis:// or rediss://) and pings it.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion == 0 {
		opts.TLSConfig.MinVersion = tls.VersionTLS12
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Connected to Redis")
	return client, nil
}
