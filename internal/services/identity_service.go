package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/pkg/crypto"
)

const maxFailedLoginAttempts = 5

// ErrInvalidCredentials indicates an unknown email, a wrong password or an unusable account.
var ErrInvalidCredentials = errors.New("identity service: invalid credentials")

// PasswordHasher turns a plaintext credential into its stored form and checks candidates.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

type bcryptHasher struct{}

// BcryptHasher is the default PasswordHasher.
func BcryptHasher() PasswordHasher { return bcryptHasher{} }

func (bcryptHasher) Hash(password string) (string, error) { return crypto.HashPassword(password) }
func (bcryptHasher) Verify(hash, password string) bool    { return crypto.VerifyPassword(hash, password) }

// CreateIdentityInput describes a new identity. PasswordHash must already be hashed.
type CreateIdentityInput struct {
	Email          string
	PasswordHash   string
	Roles          []string
	AgencyTokenUID string
}

// IdentityOption customises IdentityService behaviour.
type IdentityOption func(*IdentityService)

// WithPasswordHasher overrides the bcrypt default.
func WithPasswordHasher(h PasswordHasher) IdentityOption {
	return func(s *IdentityService) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithIdentityClock injects a custom clock primarily for testing.
func WithIdentityClock(clock func() time.Time) IdentityOption {
	return func(s *IdentityService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// IdentityService holds the identity mutation primitives. Every method joins the
// transaction carried by ctx, if any.
type IdentityService struct {
	db     *gorm.DB
	hasher PasswordHasher
	now    func() time.Time
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(db *gorm.DB, opts ...IdentityOption) (*IdentityService, error) {
	if db == nil {
		return nil, errors.New("identity service: db is required")
	}
	svc := &IdentityService{db: db, hasher: BcryptHasher(), now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Hasher exposes the configured PasswordHasher.
func (s *IdentityService) Hasher() PasswordHasher {
	return s.hasher
}

func (s *IdentityService) conn(ctx context.Context) *gorm.DB {
	return database.Conn(ctx, s.db)
}

// Get loads an identity by id.
func (s *IdentityService) Get(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	err := s.conn(ctx).Take(&identity, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity service: get: %w", err)
	}
	return &identity, nil
}

// FindByEmail loads an identity by email, or returns nil when none exists.
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	var identity models.Identity
	err := s.conn(ctx).Take(&identity, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity service: find by email: %w", err)
	}
	return &identity, nil
}

// Create persists an active identity.
func (s *IdentityService) Create(ctx context.Context, in CreateIdentityInput) (*models.Identity, error) {
	email := models.NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, errors.New("identity service: valid email is required")
	}
	if in.PasswordHash == "" {
		return nil, errors.New("identity service: password hash is required")
	}

	identity := &models.Identity{
		Email:          email,
		Password:       in.PasswordHash,
		Active:         true,
		AgencyTokenUID: stringPtr(in.AgencyTokenUID),
		Roles:          normaliseRoles(in.Roles),
	}
	if err := s.conn(ctx).Create(identity).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailInUse.WithInternal(err)
		}
		return nil, fmt.Errorf("identity service: create: %w", err)
	}
	return identity, nil
}

// Activate marks identity active and unlocked with a clean failed-login counter.
func (s *IdentityService) Activate(ctx context.Context, identity *models.Identity) error {
	if err := s.conn(ctx).Model(identity).Updates(map[string]any{
		"active":                true,
		"locked":                false,
		"failed_login_attempts": 0,
	}).Error; err != nil {
		return fmt.Errorf("identity service: activate: %w", err)
	}
	identity.Active, identity.Locked, identity.FailedLoginAttempts = true, false, 0
	return nil
}

// Deactivate marks identity inactive. Its token binding is untouched.
func (s *IdentityService) Deactivate(ctx context.Context, identity *models.Identity) error {
	if err := s.conn(ctx).Model(identity).Update("active", false).Error; err != nil {
		return fmt.Errorf("identity service: deactivate: %w", err)
	}
	identity.Active = false
	return nil
}

// ChangeEmail moves identity to email.
func (s *IdentityService) ChangeEmail(ctx context.Context, identity *models.Identity, email string) error {
	email = models.NormalizeEmail(email)
	if err := s.conn(ctx).Model(identity).Update("email", email).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrEmailInUse.WithInternal(err)
		}
		return fmt.Errorf("identity service: change email: %w", err)
	}
	identity.Email = email
	return nil
}

// BindToken records tokenUID as the identity's agency token. An empty uid unbinds.
// Seat accounting belongs to the allocator; this only writes the reference.
func (s *IdentityService) BindToken(ctx context.Context, identity *models.Identity, tokenUID string) error {
	value := stringPtr(tokenUID)
	if err := s.conn(ctx).Model(identity).Update("agency_token_uid", value).Error; err != nil {
		return fmt.Errorf("identity service: bind token: %w", err)
	}
	identity.AgencyTokenUID = value
	return nil
}

// Authenticate verifies a password. Failures count towards a lock after
// maxFailedLoginAttempts consecutive misses.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string) (*models.Identity, error) {
	identity, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if identity == nil || !identity.Active || identity.Locked {
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(identity.Password, password) {
		attempts := identity.FailedLoginAttempts + 1
		updates := map[string]any{"failed_login_attempts": attempts}
		if attempts >= maxFailedLoginAttempts {
			updates["locked"] = true
		}
		if err := s.conn(ctx).Model(identity).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("identity service: record failed login: %w", err)
		}
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.conn(ctx).Model(identity).Updates(map[string]any{
		"failed_login_attempts": 0,
		"last_login_at":         now,
	}).Error; err != nil {
		return nil, fmt.Errorf("identity service: record login: %w", err)
	}
	identity.FailedLoginAttempts = 0
	identity.LastLoginAt = &now
	return identity, nil
}

// CountActiveWithRole counts active identities holding role. Roles are stored as JSON, so
// rows are scanned in batches rather than filtered in SQL.
func (s *IdentityService) CountActiveWithRole(ctx context.Context, role string) (int64, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	var (
		count int64
		batch []models.Identity
	)
	err := s.conn(ctx).Select("id", "roles").Where("active = ?", true).
		FindInBatches(&batch, 200, func(*gorm.DB, int) error {
			for i := range batch {
				if batch[i].HasRole(role) {
					count++
				}
			}
			return nil
		}).Error
	if err != nil {
		return 0, fmt.Errorf("identity service: count role: %w", err)
	}
	return count, nil
}
