package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
)

const defaultReactivationValidity = 24 * time.Hour

// ReactivationOption customises ReactivationService behaviour.
type ReactivationOption func(*ReactivationService)

// WithReactivationValidity overrides how long a reactivation code stays usable.
func WithReactivationValidity(d time.Duration) ReactivationOption {
	return func(s *ReactivationService) {
		if d > 0 {
			s.table.ttl = d
		}
	}
}

// WithReactivationClock injects a custom clock primarily for testing.
func WithReactivationClock(clock func() time.Time) ReactivationOption {
	return func(s *ReactivationService) {
		if clock != nil {
			s.table.now = clock
		}
	}
}

// ReactivationService owns the reactivation state machine: PENDING -> REACTIVATED | EXPIRED.
type ReactivationService struct {
	table requestTable[models.ReactivationRequest, *models.ReactivationRequest]
}

// NewReactivationService constructs a ReactivationService.
func NewReactivationService(db *gorm.DB, opts ...ReactivationOption) (*ReactivationService, error) {
	if db == nil {
		return nil, errors.New("reactivation service: db is required")
	}

	service := &ReactivationService{
		table: requestTable[models.ReactivationRequest, *models.ReactivationRequest]{
			db:            db,
			kind:          "reactivation",
			subjectColumn: "email",
			ttl:           defaultReactivationValidity,
			codeBytes:     defaultCodeBytes,
			now:           time.Now,
		},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create issues a reactivation request for email, or returns the one already pending.
func (s *ReactivationService) Create(ctx context.Context, email string) (*models.ReactivationRequest, bool, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, false, errors.New("reactivation service: email is required")
	}

	return s.table.create(ctx, email, func(code string) *models.ReactivationRequest {
		return &models.ReactivationRequest{Code: code, Email: email}
	})
}

// Live returns the request for code when it can still be completed.
func (s *ReactivationService) Live(ctx context.Context, code string) (*models.ReactivationRequest, error) {
	return s.table.live(ctx, code)
}

// PendingFor returns the single live request for email, or nil.
func (s *ReactivationService) PendingFor(ctx context.Context, email string) (*models.ReactivationRequest, error) {
	return s.table.pendingFor(ctx, models.NormalizeEmail(email))
}

// IsExpired evaluates the request against the configured validity window without side effects.
func (s *ReactivationService) IsExpired(req *models.ReactivationRequest) bool {
	return s.table.isExpired(req)
}

// MarkExpired persists PENDING -> EXPIRED for req.
func (s *ReactivationService) MarkExpired(ctx context.Context, req *models.ReactivationRequest) (bool, error) {
	return s.table.markExpired(ctx, req)
}

// Complete moves req to REACTIVATED.
func (s *ReactivationService) Complete(ctx context.Context, req *models.ReactivationRequest) error {
	now := s.table.now()
	if err := s.table.finalize(ctx, req, map[string]any{
		"status":         models.StatusReactivated,
		"reactivated_at": now,
	}); err != nil {
		return err
	}
	req.Status = models.StatusReactivated
	req.ReactivatedAt = &now
	return nil
}
