package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/pkg/crypto"
	"github.com/charlesng35/seatkeeper/pkg/logger"
	"github.com/charlesng35/seatkeeper/pkg/metrics"
)

const (
	defaultCodeBytes     = 24
	maxCodeCollisionRuns = 3
)

// IsExpired reports whether req is past its validity window at now. It never mutates req:
// EXPIRED requests are expired, PENDING requests expire once strictly more than ttl has
// elapsed since they were issued, and terminal-success requests are never expired.
func IsExpired(req models.VerificationRequest, now time.Time, ttl time.Duration) bool {
	switch req.State() {
	case models.StatusExpired:
		return true
	case models.StatusPending:
		return now.Sub(req.IssuedAt()) > ttl
	default:
		return false
	}
}

// requestRecord is satisfied by pointers to the three request models.
type requestRecord[T any] interface {
	*T
	models.VerificationRequest
}

// requestTable holds the state machine shared by every request kind:
// PENDING -> terminal success, PENDING -> EXPIRED, at most one live request per subject.
type requestTable[T any, P requestRecord[T]] struct {
	db            *gorm.DB
	kind          string
	subjectColumn string
	ttl           time.Duration
	codeBytes     int
	now           func() time.Time
}

func (t *requestTable[T, P]) conn(ctx context.Context) *gorm.DB {
	return database.Conn(ctx, t.db)
}

func (t *requestTable[T, P]) log() *zap.Logger {
	return logger.WithModule("lifecycle").With(zap.String("kind", t.kind))
}

// isExpired evaluates req against this table's validity window and clock.
func (t *requestTable[T, P]) isExpired(req P) bool {
	return IsExpired(req, t.now(), t.ttl)
}

// byCode loads the request for code regardless of state.
func (t *requestTable[T, P]) byCode(ctx context.Context, code string) (P, error) {
	if code == "" {
		return nil, ErrResourceNotFound
	}
	var rec T
	err := t.conn(ctx).Take(&rec, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: find by code: %w", t.kind, err)
	}
	return P(&rec), nil
}

// markExpired moves a PENDING request to EXPIRED. It is a no-op for any other state and
// reports whether this call performed the transition.
func (t *requestTable[T, P]) markExpired(ctx context.Context, req P) (bool, error) {
	if req.State() != models.StatusPending {
		return false, nil
	}

	result := t.conn(ctx).Model(P(new(T))).
		Where("id = ? AND status = ?", req.Key(), models.StatusPending).
		Update("status", models.StatusExpired)
	if result.Error != nil {
		return false, fmt.Errorf("%s: mark expired: %w", t.kind, result.Error)
	}
	req.Transition(models.StatusExpired)

	if result.RowsAffected > 0 {
		metrics.RequestsExpired.WithLabelValues(t.kind).Inc()
		return true, nil
	}
	return false, nil
}

// live returns the request for code if it can still be completed. Expiry discovered here is
// persisted before ErrCodeExpired is returned.
func (t *requestTable[T, P]) live(ctx context.Context, code string) (P, error) {
	req, err := t.byCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if t.isExpired(req) {
		if _, err := t.markExpired(ctx, req); err != nil {
			return nil, err
		}
		return nil, ErrCodeExpired
	}
	if req.State().Terminal() {
		return nil, ErrCodeAlreadyUsed
	}
	return req, nil
}

// pendingFor returns the single live request for subject, or nil. Stale rows found on the
// way are expired. More than one live row is an anomaly: all of them are expired and nil
// is returned.
func (t *requestTable[T, P]) pendingFor(ctx context.Context, subject string) (P, error) {
	var rows []T
	if err := t.conn(ctx).
		Where(t.subjectColumn+" = ? AND status = ?", subject, models.StatusPending).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%s: list pending: %w", t.kind, err)
	}

	var live []P
	for i := range rows {
		req := P(&rows[i])
		if t.isExpired(req) {
			if _, err := t.markExpired(ctx, req); err != nil {
				return nil, err
			}
			continue
		}
		live = append(live, req)
	}

	switch len(live) {
	case 0:
		return nil, nil
	case 1:
		return live[0], nil
	}

	t.log().Warn("multiple pending requests for one subject; expiring all",
		zap.String("subject", subject),
		zap.Int("count", len(live)),
	)
	for _, req := range live {
		if _, err := t.markExpired(ctx, req); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// lockSubject takes the subject's lock row for the rest of the caller's transaction.
// Concurrent creates for one subject queue here, so the second sees the first's request.
func (t *requestTable[T, P]) lockSubject(ctx context.Context, subject string) error {
	conn := t.conn(ctx)
	row := models.RequestSubjectLock{Kind: t.kind, Subject: subject, UpdatedAt: t.now()}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("%s: ensure subject lock: %w", t.kind, err)
	}

	var locked models.RequestSubjectLock
	if err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("kind = ? AND subject = ?", t.kind, subject).
		Take(&locked).Error; err != nil {
		return fmt.Errorf("%s: lock subject: %w", t.kind, err)
	}
	return nil
}

// create returns the live request for subject when there is one. Otherwise it inserts the
// record produced by build with a fresh code. created reports which happened.
func (t *requestTable[T, P]) create(ctx context.Context, subject string, build func(code string) P) (req P, created bool, err error) {
	err = database.InTx(ctx, t.db, func(ctx context.Context) error {
		if err := t.lockSubject(ctx, subject); err != nil {
			return err
		}
		existing, err := t.pendingFor(ctx, subject)
		if err != nil {
			return err
		}
		if existing != nil {
			req = existing
			return nil
		}

		for attempt := 0; attempt < maxCodeCollisionRuns; attempt++ {
			code, err := crypto.GenerateToken(t.codeBytes)
			if err != nil {
				return fmt.Errorf("%s: generate code: %w", t.kind, err)
			}

			rec := build(code)
			rec.Issue(t.now())

			createErr := t.conn(ctx).Create(rec).Error
			if createErr == nil {
				req, created = rec, true
				return nil
			}
			if !isUniqueConstraintError(createErr) {
				return fmt.Errorf("%s: create: %w", t.kind, createErr)
			}
		}
		return fmt.Errorf("%s: create: could not allocate a unique code", t.kind)
	})
	if err != nil {
		return nil, false, err
	}
	return req, created, nil
}

// finalize moves a PENDING request to status. Zero rows affected means a concurrent
// submission got there first.
func (t *requestTable[T, P]) finalize(ctx context.Context, req P, updates map[string]any) error {
	result := t.conn(ctx).Model(P(new(T))).
		Where("id = ? AND status = ?", req.Key(), models.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("%s: finalize: %w", t.kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCodeAlreadyUsed
	}
	return nil
}

// remove deletes a PENDING request. Zero rows affected means it was already consumed.
func (t *requestTable[T, P]) remove(ctx context.Context, req P) error {
	result := t.conn(ctx).
		Where("id = ? AND status = ?", req.Key(), models.StatusPending).
		Delete(P(new(T)))
	if result.Error != nil {
		return fmt.Errorf("%s: delete: %w", t.kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCodeAlreadyUsed
	}
	return nil
}
