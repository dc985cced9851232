// Package kv mirrors signup sessions into Redis so their state survives restarts
// and can be read by other dashboard instances.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/logger"
)

const (
	keyPrefix   = "clawdesk:signup:"
	activeKey   = "clawdesk:signup_active"
	pingTimeout = 5 * time.Second
)

// client is the subset of the Redis API the store uses.
type client interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// SessionStore keeps one hash per session with a sliding TTL.
type SessionStore struct {
	rdb client
	ttl time.Duration
}

// Connect dials Redis and returns nil when it is unreachable, in which case sessions
// live in memory only.
func Connect(cfg config.KVConfig, ttl time.Duration) *SessionStore {
	if cfg.RedisURL == "" {
		return nil
	}

	opts := &redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	}
	if parsed, err := redis.ParseURL(cfg.RedisURL); err == nil {
		opts = parsed
		if cfg.RedisPassword != "" {
			opts.Password = cfg.RedisPassword
		}
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WarnCF("kv", "Redis unavailable, signup sessions kept in memory only", map[string]interface{}{
			"addr":  opts.Addr,
			"error": err.Error(),
		})
		rdb.Close()
		return nil
	}

	logger.InfoCF("kv", "Connected to Redis", map[string]interface{}{"addr": opts.Addr})
	return newSessionStore(rdb, ttl)
}

func newSessionStore(rdb client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

// Record writes fields for id and refreshes its TTL. Sessions whose phase is not
// terminal are tracked in the active set.
func (s *SessionStore) Record(ctx context.Context, id string, fields map[string]string) error {
	key := keyPrefix + id

	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := s.rdb.HSet(ctx, key, values).Err(); err != nil {
		return err
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return err
	}

	if isTerminal(fields["phase"]) {
		return s.rdb.SRem(ctx, activeKey, id).Err()
	}
	return s.rdb.SAdd(ctx, activeKey, id).Err()
}

// Lookup returns the recorded fields, or nil when the session is unknown or expired.
func (s *SessionStore) Lookup(ctx context.Context, id string) (map[string]string, error) {
	fields, err := s.rdb.HGetAll(ctx, keyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func (s *SessionStore) Remove(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, keyPrefix+id).Err(); err != nil {
		return err
	}
	return s.rdb.SRem(ctx, activeKey, id).Err()
}

// ActiveCount is the number of sessions recorded as still running.
func (s *SessionStore) ActiveCount(ctx context.Context) (int64, error) {
	return s.rdb.SCard(ctx, activeKey).Result()
}

func (s *SessionStore) Close() error {
	return s.rdb.Close()
}

func isTerminal(phase string) bool {
	switch phase {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}
