/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for immutable
// compatibility rules and other read-mostly reference data.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/brimir_terminal/internal/models"
)

// Default TTL values for different cache types
const (
	DefaultRuleTTL         = 12 * time.Hour // rules are immutable reference data
	DefaultResourceListTTL = 30 * time.Second
)

// Key prefixes for Redis cache
const (
	KeyRule         = "brimir:cache:rule:" // + from_product:to_product
	KeyResourceList = "brimir:cache:resources"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RuleTTL         time.Duration
	ResourceListTTL time.Duration

	// If true, disable caching on Redis errors.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:       "localhost:6379",
		RuleTTL:         DefaultRuleTTL,
		ResourceListTTL: DefaultResourceListTTL,
		DisableOnError:  true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // circuit breaker state
}

// New creates a new cache instance. If Redis is unreachable the cache is
// returned in a disabled state rather than failing startup.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) isDisabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disabled
}

func (c *Cache) noteError(err error) {
	if !c.config.DisableOnError {
		return
	}
	c.mu.Lock()
	if !c.disabled {
		c.disabled = true
		c.logger.Warn().Err(err).Msg("disabling cache after Redis error")
	}
	c.mu.Unlock()
}

func ruleKey(fromProduct, toProduct string) string {
	return KeyRule + fromProduct + ":" + toProduct
}

// GetRule returns a cached compatibility rule, or (nil, false) on miss.
func (c *Cache) GetRule(ctx context.Context, fromProduct, toProduct string) (*models.CompatibilityRule, bool) {
	if c.isDisabled() {
		return nil, false
	}

	data, err := c.client.Get(ctx, ruleKey(fromProduct, toProduct)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.noteError(err)
		return nil, false
	}

	var rule models.CompatibilityRule
	if err := json.Unmarshal(data, &rule); err != nil {
		c.logger.Warn().Err(err).Msg("corrupt cached rule, ignoring")
		return nil, false
	}
	return &rule, true
}

// SetRule caches a compatibility rule.
func (c *Cache) SetRule(ctx context.Context, rule *models.CompatibilityRule) {
	if c.isDisabled() || rule == nil {
		return
	}

	data, err := json.Marshal(rule)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, ruleKey(rule.FromProductID, rule.ToProductID), data, c.config.RuleTTL).Err(); err != nil {
		c.noteError(err)
	}
}

// GetResourceList returns the cached resource snapshot, or (nil, false) on miss.
func (c *Cache) GetResourceList(ctx context.Context) ([]models.Resource, bool) {
	if c.isDisabled() {
		return nil, false
	}

	data, err := c.client.Get(ctx, KeyResourceList).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.noteError(err)
		return nil, false
	}

	var resources []models.Resource
	if err := json.Unmarshal(data, &resources); err != nil {
		c.logger.Warn().Err(err).Msg("corrupt cached resource list, ignoring")
		return nil, false
	}
	return resources, true
}

// SetResourceList caches the resource snapshot.
func (c *Cache) SetResourceList(ctx context.Context, resources []models.Resource) {
	if c.isDisabled() {
		return
	}

	data, err := json.Marshal(resources)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, KeyResourceList, data, c.config.ResourceListTTL).Err(); err != nil {
		c.noteError(err)
	}
}

// InvalidateResourceList drops the cached resource snapshot. Called after
// any write that changes resource status or occupancy.
func (c *Cache) InvalidateResourceList(ctx context.Context) {
	if c.isDisabled() {
		return
	}
	if err := c.client.Del(ctx, KeyResourceList).Err(); err != nil {
		c.noteError(err)
	}
}
