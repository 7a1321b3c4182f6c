package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
)

const defaultInviteValidity = 72 * time.Hour

// InviteOption customises InviteService behaviour.
type InviteOption func(*InviteService)

// WithInviteValidity overrides how long an invite stays redeemable.
func WithInviteValidity(d time.Duration) InviteOption {
	return func(s *InviteService) {
		if d > 0 {
			s.table.ttl = d
		}
	}
}

// WithInviteCodeSize adjusts the random code length in bytes.
func WithInviteCodeSize(size int) InviteOption {
	return func(s *InviteService) {
		if size > 0 {
			s.table.codeBytes = size
		}
	}
}

// WithInviteClock injects a custom clock primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.table.now = clock
		}
	}
}

// InviteService owns the invite state machine: PENDING -> ACCEPTED | EXPIRED.
type InviteService struct {
	table requestTable[models.InviteRequest, *models.InviteRequest]
}

// NewInviteService constructs an InviteService with the provided dependencies.
func NewInviteService(db *gorm.DB, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service: db is required")
	}

	service := &InviteService{
		table: requestTable[models.InviteRequest, *models.InviteRequest]{
			db:            db,
			kind:          "invite",
			subjectColumn: "for_email",
			ttl:           defaultInviteValidity,
			codeBytes:     defaultCodeBytes,
			now:           time.Now,
		},
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Create issues an invite for email, or returns the invite already pending for it.
func (s *InviteService) Create(ctx context.Context, email string, roles []string, invitedBy string) (*models.InviteRequest, bool, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, false, errors.New("invite service: email is required")
	}

	return s.table.create(ctx, email, func(code string) *models.InviteRequest {
		return &models.InviteRequest{
			Code:      code,
			ForEmail:  email,
			Roles:     normaliseRoles(roles),
			InvitedBy: invitedBy,
		}
	})
}

// Live returns the invite for code when it can still be accepted.
func (s *InviteService) Live(ctx context.Context, code string) (*models.InviteRequest, error) {
	return s.table.live(ctx, code)
}

// PendingFor returns the single live invite for email, or nil.
func (s *InviteService) PendingFor(ctx context.Context, email string) (*models.InviteRequest, error) {
	return s.table.pendingFor(ctx, models.NormalizeEmail(email))
}

// IsExpired evaluates the invite against the configured validity window without side effects.
func (s *InviteService) IsExpired(invite *models.InviteRequest) bool {
	return s.table.isExpired(invite)
}

// MarkExpired persists PENDING -> EXPIRED for invite.
func (s *InviteService) MarkExpired(ctx context.Context, invite *models.InviteRequest) (bool, error) {
	return s.table.markExpired(ctx, invite)
}

// Authorise records that a valid agency token was supplied for the invite.
func (s *InviteService) Authorise(ctx context.Context, invite *models.InviteRequest, tokenUID string) error {
	result := s.table.conn(ctx).Model(&models.InviteRequest{}).
		Where("id = ? AND status = ?", invite.ID, models.StatusPending).
		Updates(map[string]any{"authorised": true, "agency_token_uid": tokenUID})
	if result.Error != nil {
		return fmt.Errorf("invite service: authorise: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCodeAlreadyUsed
	}
	invite.Authorised = true
	invite.AgencyTokenUID = stringPtr(tokenUID)
	return nil
}

// Accept completes the invite.
func (s *InviteService) Accept(ctx context.Context, invite *models.InviteRequest) error {
	now := s.table.now()
	if err := s.table.finalize(ctx, invite, map[string]any{
		"status":      models.StatusAccepted,
		"accepted_at": now,
	}); err != nil {
		return err
	}
	invite.Status = models.StatusAccepted
	invite.AcceptedAt = &now
	return nil
}
