// Package auth issues and revokes identity sessions.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/pkg/crypto"
	"github.com/charlesng35/seatkeeper/pkg/logger"
	"github.com/charlesng35/seatkeeper/pkg/metrics"
)

// DefaultSessionTTL is the fallback session lifetime.
const DefaultSessionTTL = 30 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	TTL         time.Duration
	TokenLength int
	Clock       func() time.Time
	Cache       SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked by the user or a forced sign-out.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a session token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache represents a cache backend for session objects keyed by token.
type SessionCache interface {
	Get(ctx context.Context, token string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokens ...string) error
}

// SessionService manages creation, rotation, and revocation of identity sessions. A
// session is addressed by an opaque token handed to the client.
type SessionService struct {
	db       *gorm.DB
	ttl      time.Duration
	tokenLen int
	now      func() time.Time
	cache    SessionCache
}

// NewSessionService constructs a session manager backed by the provided database.
func NewSessionService(db *gorm.DB, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	length := cfg.TokenLength
	if length <= 0 {
		length = 48
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:       db,
		ttl:      ttl,
		tokenLen: length,
		now:      clock,
		cache:    cfg.Cache,
	}, nil
}

// CreateSession opens a session for identityID.
func (s *SessionService) CreateSession(ctx context.Context, identityID string, meta SessionMetadata) (*models.Session, error) {
	if strings.TrimSpace(identityID) == "" {
		return nil, errors.New("session service: identity id is required")
	}

	token, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return nil, fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now()
	session := &models.Session{
		IdentityID:   identityID,
		RefreshToken: token,
		IPAddress:    strings.TrimSpace(meta.IPAddress),
		UserAgent:    strings.TrimSpace(meta.UserAgent),
		ExpiresAt:    now.Add(s.ttl),
		LastUsedAt:   now,
		CreatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()
	s.cacheSet(ctx, session)
	return session, nil
}

// Validate returns the live session for token.
func (s *SessionService) Validate(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if session.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !session.ExpiresAt.After(s.now()) {
		return nil, ErrSessionExpired
	}
	return session, nil
}

// RefreshSession rotates the token of a live session and extends its expiry.
func (s *SessionService) RefreshSession(ctx context.Context, token string) (*models.Session, error) {
	session, err := s.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	next, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return nil, fmt.Errorf("session service: generate token: %w", err)
	}

	now := s.now()
	expires := now.Add(s.ttl)
	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND refresh_token = ? AND revoked_at IS NULL", session.ID, session.RefreshToken).
		Updates(map[string]any{
			"refresh_token": next,
			"expires_at":    expires,
			"last_used_at":  now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("session service: update session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrSessionNotFound
	}

	s.cacheDelete(ctx, session.RefreshToken)
	session.RefreshToken = next
	session.ExpiresAt = expires
	session.LastUsedAt = now
	s.cacheSet(ctx, session)
	return session, nil
}

// RevokeSession marks a session as revoked, preventing further use.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	var session models.Session
	if err := s.db.WithContext(ctx).Select("refresh_token").Take(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("session service: find session: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	s.cacheDelete(ctx, session.RefreshToken)
	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// RevokeForIdentity revokes every live session belonging to identityID and returns how many
// were revoked.
func (s *SessionService) RevokeForIdentity(ctx context.Context, identityID string) (int64, error) {
	if strings.TrimSpace(identityID) == "" {
		return 0, ErrSessionInvalidToken
	}

	var tokens []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).Model(&models.Session{}).
			Where("identity_id = ? AND revoked_at IS NULL", identityID).
			Pluck("refresh_token", &tokens).Error; err != nil {
			// Without the tokens their cache entries could not be evicted.
			return 0, fmt.Errorf("session service: list identity sessions: %w", err)
		}
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("identity_id = ? AND revoked_at IS NULL", identityID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return 0, fmt.Errorf("session service: revoke identity sessions: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}

	s.cacheDelete(ctx, tokens...)
	return result.RowsAffected, nil
}

// ForceSignOut revokes all of identityID's sessions.
func (s *SessionService) ForceSignOut(ctx context.Context, identityID string) error {
	revoked, err := s.RevokeForIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	logger.WithModule("auth").Info("forced sign-out",
		zap.String("identity_id", identityID),
		zap.Int64("sessions", revoked),
	)
	return nil
}

// CleanupExpired removes expired and revoked sessions and updates active session metrics.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()
	db := s.db.WithContext(ctx)

	var activeExpired int64
	if err := db.Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	var tokens []string
	if s.cache != nil {
		if err := db.Model(&models.Session{}).
			Where("expires_at < ? OR revoked_at IS NOT NULL", now).
			Pluck("refresh_token", &tokens).Error; err != nil {
			// Without the tokens their cache entries could not be evicted.
			return 0, fmt.Errorf("session service: list expired sessions: %w", err)
		}
	}

	result := db.Where("expires_at < ? OR revoked_at IS NOT NULL", now).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	s.cacheDelete(ctx, tokens...)
	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}
	return result.RowsAffected, nil
}

func (s *SessionService) lookup(ctx context.Context, token string) (*models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrSessionInvalidToken
	}

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, token); err == nil && cached != nil {
			return cached, nil
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("refresh_token = ?", token).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}
	s.cacheSet(ctx, &session)
	return &session, nil
}

// Cache failures are non-fatal; the database stays authoritative.
func (s *SessionService) cacheSet(ctx context.Context, session *models.Session) {
	if s.cache == nil || session.RevokedAt != nil {
		return
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	_ = s.cache.Set(ctx, session, ttl)
}

func (s *SessionService) cacheDelete(ctx context.Context, tokens ...string) {
	if s.cache == nil || len(tokens) == 0 {
		return
	}
	if err := s.cache.Delete(ctx, tokens...); err != nil {
		logger.WithModule("auth").Warn("session cache evict failed",
			zap.Int("sessions", len(tokens)),
			zap.Error(err),
		)
	}
}
