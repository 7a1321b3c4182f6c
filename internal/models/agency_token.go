package models

import (
	"time"

	"gorm.io/datatypes"
)

// AgencyToken is a locally registered seat pool. Deployments backed by a remote registry
// leave this table empty.
type AgencyToken struct {
	BaseModel

	Token         string                      `gorm:"uniqueIndex;not null;size:128" json:"-"`
	Capacity      int                         `gorm:"not null" json:"capacity"`
	Organisations datatypes.JSONSlice[string] `json:"organisations"`

	Domains []AgencyTokenDomain `gorm:"foreignKey:AgencyTokenID;constraint:OnDelete:CASCADE" json:"domains,omitempty"`
}

// AgencyTokenDomain associates an email domain with an agency token.
type AgencyTokenDomain struct {
	ID            uint   `gorm:"primaryKey" json:"-"`
	AgencyTokenID string `gorm:"type:uuid;not null;uniqueIndex:idx_agency_token_domain" json:"-"`
	Domain        string `gorm:"not null;size:255;index;uniqueIndex:idx_agency_token_domain" json:"domain"`
}

// AgencyTokenOccupancy is the per-token row locked while a seat is checked and bound.
// Bound is a snapshot for reporting; the live count always comes from identities.
type AgencyTokenOccupancy struct {
	TokenUID  string `gorm:"primaryKey;size:64"`
	Bound     int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}
