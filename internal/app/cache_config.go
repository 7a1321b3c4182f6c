package app

import (
	"strings"

	"github.com/charlesng35/seatkeeper/internal/cache"
)

// RedisClientConfig converts the application cache configuration into the cache package representation.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}

// UsesRedis reports whether the shared locker needs a Redis connection even when the
// cache itself stays on the database.
func (c *Config) UsesRedis() bool {
	return c.Cache.Redis.Enabled || strings.EqualFold(strings.TrimSpace(c.Seats.Locker), "redis")
}
