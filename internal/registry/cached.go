package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/charlesng35/seatkeeper/internal/cache"
	"github.com/charlesng35/seatkeeper/pkg/logger"
	"github.com/charlesng35/seatkeeper/pkg/metrics"
)

const (
	defaultCacheTTL    = 30 * time.Second
	tokenCachePrefix   = "registry:token:"
	domainCachePrefix  = "registry:domain:"
	notFoundCacheValue = "null"
)

// Cached decorates a Registry with a shared cache and collapses concurrent identical lookups.
// FindToken is never cached because its key contains the token secret.
type Cached struct {
	next  Registry
	store cache.Store
	ttl   time.Duration
	group singleflight.Group
}

// NewCached wraps next. A nil store disables caching but keeps request collapsing.
func NewCached(next Registry, store cache.Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{next: next, store: store, ttl: ttl}
}

func (c *Cached) FindToken(ctx context.Context, sel TokenSelection) (*AgencyToken, error) {
	token, err := c.next.FindToken(ctx, sel)
	observe("find_token", err)
	return token, err
}

func (c *Cached) GetToken(ctx context.Context, uid string) (*AgencyToken, error) {
	key := tokenCachePrefix + uid
	if raw, ok := c.lookup(ctx, key); ok {
		if string(raw) == notFoundCacheValue {
			return nil, ErrTokenNotFound
		}
		var token AgencyToken
		if err := json.Unmarshal(raw, &token); err == nil {
			metrics.RegistryLookups.WithLabelValues("get_token", "hit").Inc()
			return &token, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		token, err := c.next.GetToken(ctx, uid)
		observe("get_token", err)
		switch {
		case errors.Is(err, ErrTokenNotFound):
			c.remember(ctx, key, []byte(notFoundCacheValue))
			return nil, err
		case err != nil:
			return nil, err
		}
		if payload, mErr := json.Marshal(token); mErr == nil {
			c.remember(ctx, key, payload)
		}
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	token := *v.(*AgencyToken)
	return &token, nil
}

func (c *Cached) IsAgencyDomain(ctx context.Context, domain string) (bool, error) {
	key := domainCachePrefix + strings.ToLower(strings.TrimSpace(domain))
	if raw, ok := c.lookup(ctx, key); ok {
		if agency, err := strconv.ParseBool(string(raw)); err == nil {
			metrics.RegistryLookups.WithLabelValues("agency_domain", "hit").Inc()
			return agency, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		agency, err := c.next.IsAgencyDomain(ctx, domain)
		observe("agency_domain", err)
		if err != nil {
			return false, err
		}
		c.remember(ctx, key, []byte(strconv.FormatBool(agency)))
		return agency, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Upstream returns the wrapped registry. Seat admission reads capacity from it directly.
func (c *Cached) Upstream() Registry {
	return c.next
}

// Invalidate drops cached data for a token uid, including the agency-domain answers for
// the token's domains.
func (c *Cached) Invalidate(ctx context.Context, uid string) {
	if c.store == nil {
		return
	}
	var domains []string
	if raw, ok := c.lookup(ctx, tokenCachePrefix+uid); ok && string(raw) != notFoundCacheValue {
		var token AgencyToken
		if err := json.Unmarshal(raw, &token); err == nil {
			domains = token.Domains
		}
	}
	if domains == nil {
		if token, err := c.next.GetToken(ctx, uid); err == nil {
			domains = token.Domains
		}
	}

	c.forget(ctx, tokenCachePrefix+uid)
	c.InvalidateDomains(ctx, domains...)
}

// InvalidateDomains drops cached agency-domain answers.
func (c *Cached) InvalidateDomains(ctx context.Context, domains ...string) {
	if c.store == nil {
		return
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		c.forget(ctx, domainCachePrefix+d)
	}
}

func (c *Cached) forget(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		logger.WithModule("registry").Warn("cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cached) lookup(ctx context.Context, key string) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		logger.WithModule("registry").Debug("cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return raw, found
}

func (c *Cached) remember(ctx context.Context, key string, value []byte) {
	if c.store == nil {
		return
	}
	if err := c.store.Set(ctx, key, value, c.ttl); err != nil {
		logger.WithModule("registry").Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func observe(operation string, err error) {
	result := "miss"
	switch {
	case errors.Is(err, ErrTokenNotFound):
		result = "not_found"
	case err != nil:
		result = "error"
	}
	metrics.RegistryLookups.WithLabelValues(operation, result).Inc()
}
