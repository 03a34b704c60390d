package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisMarkerStore stores processed keys in Redis so every consumer instance
// shares them. Keys expire after ttl; zero keeps them forever.
type RedisMarkerStore struct {
	client *redis.Client
	scope  string
	ttl    time.Duration
	logger *log.Logger
}

// NewRedisMarkerStore creates a marker store using the provided Redis client.
func NewRedisMarkerStore(client *redis.Client, scope string, ttl time.Duration, logger *log.Logger) *RedisMarkerStore {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisMarkerStore{client: client, scope: scope, ttl: ttl, logger: logger}
}

func (r *RedisMarkerStore) key(key string) string {
	return fmt.Sprintf("idem:%s:%s", r.scope, key)
}

// Exists reports whether key was marked. Redis errors count as not processed.
func (r *RedisMarkerStore) Exists(ctx context.Context, key string) bool {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"scope": r.scope, "key": key}).Warn("idempotency lookup failed; treating as not processed")
		return false
	}
	return n > 0
}

// MarkDone records key with SETNX; an existing key is left untouched.
func (r *RedisMarkerStore) MarkDone(ctx context.Context, key string) {
	added, err := r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
	if err != nil {
		r.logger.WithError(err).WithFields(log.Fields{"scope": r.scope, "key": key}).Error("idempotency mark failed")
		return
	}
	if !added {
		r.logger.WithFields(log.Fields{"scope": r.scope, "key": key}).Debug("idempotency marker already present")
	}
}
