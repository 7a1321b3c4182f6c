package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Identity is a platform account. Identities are deactivated, never deleted.
type Identity struct {
	BaseModel

	Email    string `gorm:"uniqueIndex;not null;size:320" json:"email"`
	Password string `gorm:"not null" json:"-"`

	Active bool `json:"active"`
	Locked bool `json:"locked"`

	// AgencyTokenUID is the agency token whose seat this identity occupies, if any.
	AgencyTokenUID *string                     `gorm:"size:64;index" json:"agency_token_uid,omitempty"`
	Roles          datatypes.JSONSlice[string] `json:"roles"`

	LastLoginAt         *time.Time `json:"last_login_at"`
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
}

// BeforeSave keeps the stored email in its canonical form.
func (i *Identity) BeforeSave(tx *gorm.DB) error {
	i.Email = NormalizeEmail(i.Email)
	return nil
}

// Domain returns the domain part of the identity's email.
func (i *Identity) Domain() string {
	return EmailDomain(i.Email)
}

// HasToken reports whether the identity is bound to the given agency token.
func (i *Identity) HasToken(uid string) bool {
	return i.AgencyTokenUID != nil && *i.AgencyTokenUID == uid
}

// HasRole reports whether the identity carries role.
func (i *Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// NormalizeEmail trims and lowercases an address; emails are unique case-insensitively.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain extracts the lowercased domain of an address, or "" when there is none.
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
