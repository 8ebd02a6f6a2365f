// Package taskforge Redis connection manager.
// A single process-wide pool, lazily initialized, with a
// mutex-serialized health probe so concurrent callers collapse into one
// PING instead of stampeding the server.
package taskforge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPoolConfig configures the shared connection pool.
type RedisPoolConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key this module writes (see keys.go).
	Prefix string
	// HealthCheckInterval bounds how often GetPool re-probes with PING.
	// Defaults to 30s.
	HealthCheckInterval time.Duration
}

func (c RedisPoolConfig) withDefaults() RedisPoolConfig {
	if c.Prefix == "" {
		c.Prefix = DefaultKeyPrefix
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = 30 * time.Second
	}
	return c
}

// RedisPool is the single shared connection manager. It is safe for
// concurrent use.
type RedisPool struct {
	cfg    RedisPoolConfig
	client *redis.Client
	logger *Logger

	mu        sync.Mutex
	lastProbe time.Time
	healthy   bool
	probed    bool
}

// NewRedisPool lazily constructs a RedisPool. The underlying
// *redis.Client is created eagerly (dialing is itself lazy in
// go-redis), but the first health probe only happens on GetPool/GetConn.
func NewRedisPool(cfg RedisPoolConfig, logger *Logger) *RedisPool {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = NewLogger("RedisPool")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisPool{cfg: cfg, client: client, logger: logger}
}

// NewRedisPoolFromClient wraps an already-constructed client (used by
// tests against miniredis, and by hosts that already manage their own
// go-redis client lifecycle).
func NewRedisPoolFromClient(client *redis.Client, prefix string, logger *Logger) *RedisPool {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = NewLogger("RedisPool")
	}
	return &RedisPool{
		cfg:    RedisPoolConfig{Prefix: prefix, HealthCheckInterval: 30 * time.Second},
		client: client,
		logger: logger,
	}
}

// Prefix returns the configured key-namespace prefix.
func (p *RedisPool) Prefix() string {
	return p.cfg.Prefix
}

// GetPool returns the shared client after a (possibly cached) health
// probe. Concurrent callers within HealthCheckInterval of the last
// probe skip the PING entirely; callers racing for the first probe
// collapse onto a single in-flight PING via the mutex.
func (p *RedisPool) GetPool(ctx context.Context) (*redis.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.probed && time.Since(p.lastProbe) < p.cfg.HealthCheckInterval {
		if !p.healthy {
			return nil, NewTransientError("redis pool unhealthy", nil)
		}
		return p.client, nil
	}

	err := p.client.Ping(ctx).Err()
	p.probed = true
	p.lastProbe = time.Now()
	p.healthy = err == nil

	if err != nil {
		p.logger.Warn("redis health probe failed", "error", err)
		return nil, NewTransientError("redis unavailable", err)
	}
	return p.client, nil
}

// WithConn is the scoped-resource form of GetPool: it acquires a
// healthy client, runs fn, and marks the pool unhealthy (forcing the
// next GetPool to re-probe) if fn returns any error other than
// redis.Nil; application errors are not told apart from transport
// failures.
func (p *RedisPool) WithConn(ctx context.Context, fn func(*redis.Client) error) error {
	client, err := p.GetPool(ctx)
	if err != nil {
		return err
	}

	if err := fn(client); err != nil {
		if isTransportError(err) {
			p.mu.Lock()
			p.healthy = false
			p.probed = false
			p.mu.Unlock()
		}
		return err
	}
	return nil
}

func isTransportError(err error) bool {
	if err == nil || err == redis.Nil {
		return false
	}
	return true
}

// Reset forces the next GetPool call to re-probe, regardless of
// HealthCheckInterval.
func (p *RedisPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probed = false
}

// Close releases the underlying connections.
func (p *RedisPool) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close redis pool: %w", err)
	}
	return nil
}
