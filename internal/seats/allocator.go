// Package seats admits identities to capacity-limited agency tokens.
package seats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/pkg/logger"
	"github.com/charlesng35/seatkeeper/pkg/metrics"
)

var (
	// ErrNotEnoughSpace is returned when every seat of a token is taken at bind time.
	ErrNotEnoughSpace = errors.New("seats: not enough space available")
	// ErrNestedAdmission rejects Admit calls made inside an open transaction.
	ErrNestedAdmission = errors.New("seats: admission must not run inside a transaction")
)

// BindFunc performs the identity mutation that occupies the seat. It receives a context
// carrying the admission transaction; all of its queries must go through database.Conn.
type BindFunc func(ctx context.Context) error

// Allocator performs check-and-bind for agency token seats.
//
// For one token the sequence is: take the per-token lock, lock the token's occupancy row,
// count bound identities, run bind, commit. Capacity is read from the uncached registry
// on every admission so changes apply immediately.
type Allocator struct {
	db     *gorm.DB
	ledger *Ledger
	locker Locker
	now    func() time.Time
}

// AllocatorOption customises an Allocator.
type AllocatorOption func(*Allocator)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) AllocatorOption {
	return func(a *Allocator) {
		if l != nil {
			a.locker = l
		}
	}
}

// WithAllocatorClock overrides the time source.
func WithAllocatorClock(clock func() time.Time) AllocatorOption {
	return func(a *Allocator) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewAllocator constructs an Allocator.
func NewAllocator(db *gorm.DB, ledger *Ledger, opts ...AllocatorOption) (*Allocator, error) {
	if db == nil {
		return nil, errors.New("allocator: db is required")
	}
	if ledger == nil {
		return nil, errors.New("allocator: ledger is required")
	}

	a := &Allocator{
		db:     db,
		ledger: ledger,
		locker: NewLocalLocker(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Admit grants one seat on tokenUID to whatever bind associates with it. It returns
// registry.ErrTokenNotFound for unknown tokens and ErrNotEnoughSpace when the token is full.
// When bind fails the whole admission rolls back and no seat is consumed.
func (a *Allocator) Admit(ctx context.Context, tokenUID string, bind BindFunc) error {
	tokenUID = strings.TrimSpace(tokenUID)
	if tokenUID == "" {
		return registry.ErrTokenNotFound
	}
	if bind == nil {
		return errors.New("allocator: bind is required")
	}
	if _, inTx := database.TxFrom(ctx); inTx {
		return ErrNestedAdmission
	}

	err := a.admit(ctx, tokenUID, bind)
	metrics.Admissions.WithLabelValues(admissionResult(err)).Inc()
	return err
}

func (a *Allocator) admit(ctx context.Context, tokenUID string, bind BindFunc) error {
	log := logger.WithModule("seats").With(zap.String("token_uid", tokenUID))

	unlock, err := a.locker.Lock(ctx, tokenUID)
	if err != nil {
		return fmt.Errorf("allocator: lock token: %w", err)
	}
	defer unlock()

	capacity, err := a.ledger.CapacityOf(ctx, tokenUID)
	if err != nil {
		return err
	}

	if err := a.ensureOccupancyRow(ctx, tokenUID); err != nil {
		return err
	}

	return database.InTx(ctx, a.db, func(ctx context.Context) error {
		tx := database.Conn(ctx, a.db)

		var row models.AgencyTokenOccupancy
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&row, "token_uid = ?", tokenUID).Error; err != nil {
			return fmt.Errorf("allocator: lock occupancy: %w", err)
		}

		bound, err := a.ledger.BoundCount(ctx, tokenUID)
		if err != nil {
			return err
		}
		if capacity-bound <= 0 {
			log.Info("agency token full", zap.Int("capacity", capacity), zap.Int("bound", bound))
			return ErrNotEnoughSpace
		}

		if err := bind(ctx); err != nil {
			return err
		}

		after, err := a.ledger.BoundCount(ctx, tokenUID)
		if err != nil {
			return err
		}
		if after > capacity {
			// bind attached more than one identity; refuse rather than overfill.
			return ErrNotEnoughSpace
		}

		if err := tx.Model(&models.AgencyTokenOccupancy{}).
			Where("token_uid = ?", tokenUID).
			Updates(map[string]any{"bound": after, "updated_at": a.now()}).Error; err != nil {
			return fmt.Errorf("allocator: record occupancy: %w", err)
		}

		log.Debug("seat admitted", zap.Int("capacity", capacity), zap.Int("bound", after))
		return nil
	})
}

// Release unbinds identityID from tokenUID if it is still bound there. It joins the
// caller's transaction when ctx carries one and takes no lock on tokenUID, so moving an
// identity between tokens never holds two tokens' locks. Releasing an unbound identity is
// a no-op.
func (a *Allocator) Release(ctx context.Context, tokenUID, identityID string) (bool, error) {
	if strings.TrimSpace(tokenUID) == "" || strings.TrimSpace(identityID) == "" {
		return false, nil
	}

	conn := database.Conn(ctx, a.db)
	result := conn.Model(&models.Identity{}).
		Where("id = ? AND agency_token_uid = ?", identityID, tokenUID).
		Update("agency_token_uid", nil)
	if result.Error != nil {
		return false, fmt.Errorf("allocator: release seat: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	// tokenUID's occupancy row is not touched here; its next Admit recounts it.

	metrics.SeatReleases.Inc()
	logger.WithModule("seats").Debug("seat released",
		zap.String("token_uid", tokenUID),
		zap.String("identity_id", identityID),
	)
	return true, nil
}

// Available reports free seats without reserving one. The answer is advisory: only Admit
// guarantees a seat.
func (a *Allocator) Available(ctx context.Context, tokenUID string) (int, error) {
	capacity, err := a.ledger.CapacityOf(ctx, tokenUID)
	if err != nil {
		return 0, err
	}
	bound, err := a.ledger.BoundCount(ctx, tokenUID)
	if err != nil {
		return 0, err
	}
	if free := capacity - bound; free > 0 {
		return free, nil
	}
	return 0, nil
}

func (a *Allocator) ensureOccupancyRow(ctx context.Context, tokenUID string) error {
	row := models.AgencyTokenOccupancy{TokenUID: tokenUID, UpdatedAt: a.now()}
	if err := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error; err != nil {
		return fmt.Errorf("allocator: ensure occupancy row: %w", err)
	}
	return nil
}

func admissionResult(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrNotEnoughSpace):
		return "full"
	case errors.Is(err, registry.ErrTokenNotFound):
		return "unknown_token"
	default:
		return "error"
	}
}
