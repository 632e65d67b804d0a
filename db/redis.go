package db

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"claimServer/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NewRedisClient connects to Redis. redisURL may be a redis:// URL or host:port.
func NewRedisClient(ctx context.Context, redisURL, password string, db int) (*redis.Client, error) {
	logrus.Info("🔌 Connecting to Redis...")

	if redisURL == "" {
		redisURL = "localhost:6379"
	}

	var opts *redis.Options
	if strings.Contains(redisURL, "://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: redisURL, Password: password, DB: db}
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolSize = 10
	opts.MinIdleConns = 5

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.WithField("addr", opts.Addr).Info("✅ Redis connected successfully")
	return client, nil
}

/* =========================
   NONCE LEDGER
   Redis Key: claim:nonce:{fid}:{randomKey} -> "1" (TTL)
========================= */

// RedisNonceLedger makes each (fid, randomKey) pair usable once
type RedisNonceLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisNonceLedger creates a nonce ledger with the given retention
func NewRedisNonceLedger(client *redis.Client, ttl time.Duration) *RedisNonceLedger {
	if ttl <= 0 {
		ttl = config.DefaultNonceTTL
	}
	return &RedisNonceLedger{client: client, ttl: ttl}
}

// Consume records the nonce and reports whether it was fresh
func (l *RedisNonceLedger) Consume(ctx context.Context, fid int64, nonce string) (bool, error) {
	key := fmt.Sprintf(config.RedisNonceKey, fid, nonce)
	fresh, err := l.client.SetNX(ctx, key, time.Now().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return fresh, nil
}

// Release forgets the nonce so the same request can be retried
func (l *RedisNonceLedger) Release(ctx context.Context, fid int64, nonce string) error {
	key := fmt.Sprintf(config.RedisNonceKey, fid, nonce)
	if err := l.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to release nonce: %w", err)
	}
	return nil
}

// Ping performs a Redis health check
func (l *RedisNonceLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// MemoryNonceLedger is the in-process equivalent of RedisNonceLedger
type MemoryNonceLedger struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryNonceLedger() *MemoryNonceLedger {
	return &MemoryNonceLedger{seen: make(map[string]bool)}
}

func (m *MemoryNonceLedger) Consume(ctx context.Context, fid int64, nonce string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf(config.RedisNonceKey, fid, nonce)
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *MemoryNonceLedger) Release(ctx context.Context, fid int64, nonce string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, fmt.Sprintf(config.RedisNonceKey, fid, nonce))
	return nil
}
