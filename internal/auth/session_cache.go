package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/seatkeeper/internal/cache"
	"github.com/charlesng35/seatkeeper/internal/models"
)

const sessionCacheKeyPrefix = "auth:sessions:"

// NewSessionCache wraps a cache.Store (Redis or database backed) as a SessionCache.
func NewSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &sessionStoreCache{store: store}
}

type sessionStoreCache struct {
	store cache.Store
}

type cachedSession struct {
	models.Session
	Token string `json:"token"`
}

func (c *sessionStoreCache) Get(ctx context.Context, token string) (*models.Session, error) {
	key := cacheKey(token)
	if key == "" {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errSessionCacheMiss
	}

	var entry cachedSession
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	session := entry.Session
	session.RefreshToken = entry.Token
	return &session, nil
}

func (c *sessionStoreCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key := cacheKey(session.RefreshToken)
	if key == "" {
		return errors.New("session cache: token missing")
	}

	payload, err := json.Marshal(cachedSession{Session: *session, Token: session.RefreshToken})
	if err != nil {
		return fmt.Errorf("session cache: marshal: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.store.Set(ctx, key, payload, ttl)
}

func (c *sessionStoreCache) Delete(ctx context.Context, tokens ...string) error {
	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if key := cacheKey(token); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return c.store.Delete(ctx, keys...)
}

func cacheKey(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	return sessionCacheKeyPrefix + token
}
