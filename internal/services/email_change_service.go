package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/models"
)

const defaultEmailChangeValidity = 24 * time.Hour

// EmailChangeOption customises EmailChangeService behaviour.
type EmailChangeOption func(*EmailChangeService)

// WithEmailChangeValidity overrides how long a confirmation code stays usable.
func WithEmailChangeValidity(d time.Duration) EmailChangeOption {
	return func(s *EmailChangeService) {
		if d > 0 {
			s.table.ttl = d
		}
	}
}

// WithEmailChangeClock injects a custom clock primarily for testing.
func WithEmailChangeClock(clock func() time.Time) EmailChangeOption {
	return func(s *EmailChangeService) {
		if clock != nil {
			s.table.now = clock
		}
	}
}

// EmailChangeService owns the email change state machine. A completed change deletes its
// request; PENDING requests otherwise end EXPIRED.
type EmailChangeService struct {
	table requestTable[models.EmailChangeRequest, *models.EmailChangeRequest]
}

// NewEmailChangeService constructs an EmailChangeService.
func NewEmailChangeService(db *gorm.DB, opts ...EmailChangeOption) (*EmailChangeService, error) {
	if db == nil {
		return nil, errors.New("email change service: db is required")
	}

	service := &EmailChangeService{
		table: requestTable[models.EmailChangeRequest, *models.EmailChangeRequest]{
			db:            db,
			kind:          "email_change",
			subjectColumn: "previous_email",
			ttl:           defaultEmailChangeValidity,
			codeBytes:     defaultCodeBytes,
			now:           time.Now,
		},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Create records a request to move identity from previousEmail to newEmail. A pending
// request for the same target is returned as is; one for a different target is superseded.
func (s *EmailChangeService) Create(ctx context.Context, identityID, previousEmail, newEmail string) (*models.EmailChangeRequest, bool, error) {
	previousEmail = models.NormalizeEmail(previousEmail)
	newEmail = models.NormalizeEmail(newEmail)
	if strings.TrimSpace(identityID) == "" || previousEmail == "" || newEmail == "" {
		return nil, false, errors.New("email change service: identity and both emails are required")
	}

	var (
		req     *models.EmailChangeRequest
		created bool
	)
	err := database.InTx(ctx, s.table.db, func(ctx context.Context) error {
		if err := s.table.lockSubject(ctx, previousEmail); err != nil {
			return err
		}
		existing, err := s.table.pendingFor(ctx, previousEmail)
		if err != nil {
			return err
		}
		if existing != nil && existing.NewEmail != newEmail {
			if _, err := s.table.markExpired(ctx, existing); err != nil {
				return err
			}
		}

		req, created, err = s.table.create(ctx, previousEmail, func(code string) *models.EmailChangeRequest {
			return &models.EmailChangeRequest{
				Code:          code,
				IdentityID:    identityID,
				PreviousEmail: previousEmail,
				NewEmail:      newEmail,
			}
		})
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return req, created, nil
}

// Live returns the request for code when it can still be completed.
func (s *EmailChangeService) Live(ctx context.Context, code string) (*models.EmailChangeRequest, error) {
	return s.table.live(ctx, code)
}

// PendingFor returns the single live request from previousEmail, or nil.
func (s *EmailChangeService) PendingFor(ctx context.Context, previousEmail string) (*models.EmailChangeRequest, error) {
	return s.table.pendingFor(ctx, models.NormalizeEmail(previousEmail))
}

// IsExpired evaluates the request against the configured validity window without side effects.
func (s *EmailChangeService) IsExpired(req *models.EmailChangeRequest) bool {
	return s.table.isExpired(req)
}

// MarkExpired persists PENDING -> EXPIRED for req.
func (s *EmailChangeService) MarkExpired(ctx context.Context, req *models.EmailChangeRequest) (bool, error) {
	return s.table.markExpired(ctx, req)
}

// Complete consumes req by deleting it.
func (s *EmailChangeService) Complete(ctx context.Context, req *models.EmailChangeRequest) error {
	if err := s.table.remove(ctx, req); err != nil {
		return err
	}
	req.Status = models.StatusCompleted
	return nil
}
