package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
)

// Store is the local, database-backed registry.
type Store struct {
	db *gorm.DB
}

// NewStore constructs a registry over the agency_tokens tables.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("registry store: db is required")
	}
	return &Store{db: db}, nil
}

// FindToken resolves a token by its secret, then checks the selected domain and organisation.
func (s *Store) FindToken(ctx context.Context, sel TokenSelection) (*AgencyToken, error) {
	sel = sel.Normalize()
	if sel.Token == "" {
		return nil, ErrTokenNotFound
	}

	var record models.AgencyToken
	err := s.db.WithContext(ctx).Preload("Domains").Take(&record, "token = ?", sel.Token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry store: find token: %w", err)
	}

	token := toAgencyToken(&record)
	if !token.matches(sel) {
		return nil, ErrTokenNotFound
	}
	return token, nil
}

// GetToken fetches a token by uid.
func (s *Store) GetToken(ctx context.Context, uid string) (*AgencyToken, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrTokenNotFound
	}

	var record models.AgencyToken
	err := s.db.WithContext(ctx).Preload("Domains").Take(&record, "id = ?", uid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("registry store: get token: %w", err)
	}
	return toAgencyToken(&record), nil
}

// IsAgencyDomain reports whether any token is associated with domain.
func (s *Store) IsAgencyDomain(ctx context.Context, domain string) (bool, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return false, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.AgencyTokenDomain{}).
		Where("domain = ?", domain).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("registry store: check domain: %w", err)
	}
	return count > 0, nil
}

// CreateTokenInput describes a token to register locally.
type CreateTokenInput struct {
	Token         string
	Capacity      int
	Domains       []string
	Organisations []string
}

// CreateToken registers a new agency token with its domains.
func (s *Store) CreateToken(ctx context.Context, input CreateTokenInput) (*AgencyToken, error) {
	secret := strings.TrimSpace(input.Token)
	if secret == "" {
		return nil, errors.New("registry store: token is required")
	}
	if input.Capacity < 0 {
		return nil, errors.New("registry store: capacity must not be negative")
	}

	record := models.AgencyToken{
		Token:         secret,
		Capacity:      input.Capacity,
		Organisations: input.Organisations,
	}
	seen := make(map[string]struct{}, len(input.Domains))
	for _, d := range input.Domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		record.Domains = append(record.Domains, models.AgencyTokenDomain{Domain: d})
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("registry store: create token: %w", err)
	}
	return toAgencyToken(&record), nil
}

// SetCapacity changes a token's declared capacity. Existing bindings are not revoked.
func (s *Store) SetCapacity(ctx context.Context, uid string, capacity int) error {
	if capacity < 0 {
		return errors.New("registry store: capacity must not be negative")
	}
	result := s.db.WithContext(ctx).Model(&models.AgencyToken{}).
		Where("id = ?", uid).
		Update("capacity", capacity)
	if result.Error != nil {
		return fmt.Errorf("registry store: set capacity: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

func toAgencyToken(record *models.AgencyToken) *AgencyToken {
	token := &AgencyToken{
		UID:           record.ID,
		Capacity:      record.Capacity,
		Organisations: append([]string(nil), record.Organisations...),
	}
	for _, d := range record.Domains {
		token.Domains = append(token.Domains, d.Domain)
	}
	return token
}
