package models

import (
	"time"

	"gorm.io/datatypes"
)

// RequestStatus is the lifecycle state of a verification request.
type RequestStatus string

const (
	StatusPending     RequestStatus = "PENDING"
	StatusAccepted    RequestStatus = "ACCEPTED"
	StatusReactivated RequestStatus = "REACTIVATED"
	StatusCompleted   RequestStatus = "COMPLETED"
	StatusExpired     RequestStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible from s.
func (s RequestStatus) Terminal() bool {
	return s != StatusPending
}

// RequestSubjectLock is the row locked while a request of Kind is created for Subject.
type RequestSubjectLock struct {
	Kind      string `gorm:"primaryKey;size:32"`
	Subject   string `gorm:"primaryKey;size:320"`
	UpdatedAt time.Time
}

// VerificationRequest is the shape shared by invite, reactivation and email change requests.
type VerificationRequest interface {
	Key() string
	VerificationCode() string
	State() RequestStatus
	IssuedAt() time.Time
	// Transition records status on the in-memory value only.
	Transition(status RequestStatus)
	// Issue stamps a freshly built request as PENDING at now.
	Issue(now time.Time)
}

// InviteRequest invites a prospective learner to sign up.
type InviteRequest struct {
	BaseModel

	Code      string                      `gorm:"uniqueIndex;not null;size:128" json:"-"`
	ForEmail  string                      `gorm:"not null;index;size:320" json:"email"`
	Roles     datatypes.JSONSlice[string] `json:"roles"`
	InvitedBy string                      `gorm:"size:64" json:"invited_by"`
	Status    RequestStatus               `gorm:"not null;index;size:16" json:"status"`

	AcceptedAt *time.Time `json:"accepted_at"`

	// Authorised is set once a valid agency token has been supplied for a domain that needs one.
	Authorised     bool    `json:"authorised"`
	AgencyTokenUID *string `gorm:"size:64" json:"agency_token_uid,omitempty"`
}

func (r *InviteRequest) Key() string                { return r.ID }
func (r *InviteRequest) VerificationCode() string   { return r.Code }
func (r *InviteRequest) State() RequestStatus       { return r.Status }
func (r *InviteRequest) IssuedAt() time.Time        { return r.CreatedAt }
func (r *InviteRequest) Transition(s RequestStatus) { r.Status = s }
func (r *InviteRequest) Issue(now time.Time)        { r.Status, r.CreatedAt = StatusPending, now }

// ReactivationRequest asks to reactivate a deactivated identity.
type ReactivationRequest struct {
	BaseModel

	Code   string        `gorm:"uniqueIndex;not null;size:128" json:"-"`
	Email  string        `gorm:"not null;index;size:320" json:"email"`
	Status RequestStatus `gorm:"not null;index;size:16" json:"status"`

	ReactivatedAt *time.Time `json:"reactivated_at"`
}

func (r *ReactivationRequest) Key() string                { return r.ID }
func (r *ReactivationRequest) VerificationCode() string   { return r.Code }
func (r *ReactivationRequest) State() RequestStatus       { return r.Status }
func (r *ReactivationRequest) IssuedAt() time.Time        { return r.CreatedAt }
func (r *ReactivationRequest) Transition(s RequestStatus) { r.Status = s }
func (r *ReactivationRequest) Issue(now time.Time)        { r.Status, r.CreatedAt = StatusPending, now }

// EmailChangeRequest moves an identity from PreviousEmail to NewEmail once confirmed.
type EmailChangeRequest struct {
	BaseModel

	Code          string        `gorm:"uniqueIndex;not null;size:128" json:"-"`
	IdentityID    string        `gorm:"type:uuid;not null;index" json:"identity_id"`
	PreviousEmail string        `gorm:"not null;index;size:320" json:"previous_email"`
	NewEmail      string        `gorm:"not null;size:320" json:"new_email"`
	Status        RequestStatus `gorm:"not null;index;size:16" json:"status"`
}

func (r *EmailChangeRequest) Key() string                { return r.ID }
func (r *EmailChangeRequest) VerificationCode() string   { return r.Code }
func (r *EmailChangeRequest) State() RequestStatus       { return r.Status }
func (r *EmailChangeRequest) IssuedAt() time.Time        { return r.CreatedAt }
func (r *EmailChangeRequest) Transition(s RequestStatus) { r.Status = s }
func (r *EmailChangeRequest) Issue(now time.Time)        { r.Status, r.CreatedAt = StatusPending, now }
