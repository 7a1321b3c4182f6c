// Package registry looks up agency tokens: the seat pools an identity can be bound to.
// The authority is either a remote registry service or the local agency_tokens table.
package registry

//go:generate mockgen -source=registry.go -destination=mocks/mocks.go -package=mocks Registry

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrTokenNotFound indicates no agency token matches the lookup.
	ErrTokenNotFound = errors.New("registry: agency token not found")
	// ErrUnavailable wraps transport or server failures talking to the registry.
	ErrUnavailable = errors.New("registry: unavailable")
)

// TokenSelection is the user-supplied data identifying an agency token.
type TokenSelection struct {
	Domain       string `json:"domain"`
	Token        string `json:"token"`
	Organisation string `json:"organisation"`
}

// Empty reports whether no token data was supplied.
func (s TokenSelection) Empty() bool {
	return strings.TrimSpace(s.Token) == ""
}

// Normalize trims the selection and lowercases the domain.
func (s TokenSelection) Normalize() TokenSelection {
	return TokenSelection{
		Domain:       strings.ToLower(strings.TrimSpace(s.Domain)),
		Token:        strings.TrimSpace(s.Token),
		Organisation: strings.TrimSpace(s.Organisation),
	}
}

// AgencyToken describes a seat pool. The secret token value is never carried here.
type AgencyToken struct {
	UID           string   `json:"uid"`
	Capacity      int      `json:"capacity"`
	Domains       []string `json:"domains"`
	Organisations []string `json:"organisations"`
}

// Registry is the external authority for agency tokens.
type Registry interface {
	// FindToken resolves a token from (domain, secret, organisation).
	FindToken(ctx context.Context, sel TokenSelection) (*AgencyToken, error)
	// GetToken fetches a token by uid.
	GetToken(ctx context.Context, uid string) (*AgencyToken, error)
	// IsAgencyDomain reports whether identities on domain must hold an agency token.
	IsAgencyDomain(ctx context.Context, domain string) (bool, error)
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}

// matches checks the selection's domain and organisation against a token. A token that
// lists organisations only matches a selection naming one of them.
func (t *AgencyToken) matches(sel TokenSelection) bool {
	if sel.Domain != "" && !containsFold(t.Domains, sel.Domain) {
		return false
	}
	if len(t.Organisations) > 0 && !containsFold(t.Organisations, sel.Organisation) {
		return false
	}
	return true
}
