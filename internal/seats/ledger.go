package seats

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/internal/registry"
)

// Ledger answers the two questions admission depends on: how many seats a token declares,
// and how many identities currently occupy one.
type Ledger struct {
	registry registry.Registry
	db       *gorm.DB
}

// upstreamer is implemented by caching decorators around a Registry.
type upstreamer interface {
	Upstream() registry.Registry
}

// NewLedger combines the token registry with the identity store. Capacity must be current
// when a seat is bound, so a caching registry is unwrapped to its upstream authority.
func NewLedger(reg registry.Registry, db *gorm.DB) (*Ledger, error) {
	if reg == nil {
		return nil, errors.New("ledger: registry is required")
	}
	if db == nil {
		return nil, errors.New("ledger: db is required")
	}
	for {
		wrapped, ok := reg.(upstreamer)
		if !ok {
			break
		}
		reg = wrapped.Upstream()
	}
	return &Ledger{registry: reg, db: db}, nil
}

// CapacityOf returns the declared capacity of tokenUID. Unknown tokens yield registry.ErrTokenNotFound.
func (l *Ledger) CapacityOf(ctx context.Context, tokenUID string) (int, error) {
	token, err := l.registry.GetToken(ctx, tokenUID)
	if err != nil {
		return 0, err
	}
	if token.Capacity < 0 {
		return 0, nil
	}
	return token.Capacity, nil
}

// BoundCount counts identities bound to tokenUID, inside the caller's transaction when there is one.
func (l *Ledger) BoundCount(ctx context.Context, tokenUID string) (int, error) {
	var count int64
	if err := database.Conn(ctx, l.db).
		Model(&models.Identity{}).
		Where("agency_token_uid = ?", tokenUID).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("ledger: count bound identities: %w", err)
	}
	return int(count), nil
}
