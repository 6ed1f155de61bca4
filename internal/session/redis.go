package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/link-forwarding-service/internal/monitoring"
)

// RedisClient is the subset of *redis.Client the cache needs
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// RedisCache shares tokens between service instances. Redis expires keys
// itself; a Redis failure is reported as a miss.
type RedisCache struct {
	client RedisClient
	ttl    time.Duration
}

func NewRedisCache(client RedisClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// NewRedisClient dials Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func sessionKey(tenantID uuid.UUID) string {
	return fmt.Sprintf("session:%s", tenantID.String())
}

func (c *RedisCache) Get(ctx context.Context, tenantID uuid.UUID) (Token, bool) {
	cached, err := c.client.Get(ctx, sessionKey(tenantID)).Result()
	if errors.Is(err, redis.Nil) {
		monitoring.SessionCacheLookups.WithLabelValues("miss").Inc()
		return Token{}, false
	}
	if err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("Session cache read failed")
		monitoring.SessionCacheLookups.WithLabelValues("error").Inc()
		return Token{}, false
	}

	var token Token
	if err := json.Unmarshal([]byte(cached), &token); err != nil {
		c.client.Del(ctx, sessionKey(tenantID))
		monitoring.SessionCacheLookups.WithLabelValues("error").Inc()
		return Token{}, false
	}
	monitoring.SessionCacheLookups.WithLabelValues("hit").Inc()
	return token, true
}

func (c *RedisCache) Put(ctx context.Context, tenantID uuid.UUID, token Token) {
	if token.AcquiredAt.IsZero() {
		token.AcquiredAt = time.Now()
	}
	data, err := json.Marshal(token)
	if err != nil {
		return
	}
	if err := c.client.SetEx(ctx, sessionKey(tenantID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("Session cache write failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, tenantID uuid.UUID) {
	if err := c.client.Del(ctx, sessionKey(tenantID)).Err(); err != nil {
		log.Warn().Err(err).Str("tenant_id", tenantID.String()).Msg("Session cache invalidate failed")
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
