package services

import (
	"context"
	"errors"
	"strings"
)

// Intent names the workflow a verification code belongs to.
type Intent string

const (
	IntentReactivation      Intent = "REACTIVATION"
	IntentEmailChange       Intent = "EMAIL_CHANGE"
	IntentAssignAgencyToken Intent = "ASSIGN_AGENCY_TOKEN"
)

// Determination is what a code resolved to. It is computed on demand and never stored.
type Determination struct {
	Email  string `json:"email"`
	Intent Intent `json:"intent"`
}

// resolveStrategy interprets code as one workflow. ok=false means "not mine".
type resolveStrategy struct {
	intent  Intent
	resolve func(ctx context.Context, code string) (email string, ok bool, err error)
}

// Resolver decides which workflow an opaque code belongs to. The code spaces are not
// disjoint by construction, so strategies are tried in a fixed order and the first match wins.
type Resolver struct {
	strategies []resolveStrategy
}

// NewResolver wires the strategies in precedence order: reactivation, email change, then
// agency-token assignment.
func NewResolver(reactivations *ReactivationService, emailChanges *EmailChangeService, identities *IdentityService, codec AssignmentCodec) (*Resolver, error) {
	if reactivations == nil || emailChanges == nil || identities == nil || codec == nil {
		return nil, errors.New("resolver: all collaborators are required")
	}

	return &Resolver{strategies: []resolveStrategy{
		{
			intent: IntentReactivation,
			resolve: func(ctx context.Context, code string) (string, bool, error) {
				req, err := reactivations.Live(ctx, code)
				if err != nil {
					return "", false, liveLookupErr(err)
				}
				return req.Email, true, nil
			},
		},
		{
			intent: IntentEmailChange,
			resolve: func(ctx context.Context, code string) (string, bool, error) {
				req, err := emailChanges.Live(ctx, code)
				if err != nil {
					return "", false, liveLookupErr(err)
				}
				return req.NewEmail, true, nil
			},
		},
		{
			intent: IntentAssignAgencyToken,
			resolve: func(ctx context.Context, code string) (string, bool, error) {
				email, err := codec.Decode(code)
				if err != nil {
					return "", false, nil
				}
				identity, err := identities.FindByEmail(ctx, email)
				if err != nil {
					return "", false, err
				}
				if identity == nil {
					return "", false, nil
				}
				return identity.Email, true, nil
			},
		},
	}}, nil
}

// liveLookupErr folds "no live request for this code" into a miss so the next strategy runs.
func liveLookupErr(err error) error {
	if errors.Is(err, ErrResourceNotFound) || errors.Is(err, ErrCodeExpired) || errors.Is(err, ErrCodeAlreadyUsed) {
		return nil
	}
	return err
}

// Resolve returns the first matching interpretation of code, or ErrVerificationCodeNotFound.
func (r *Resolver) Resolve(ctx context.Context, code string) (Determination, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Determination{}, ErrVerificationCodeNotFound
	}

	for _, strategy := range r.strategies {
		email, ok, err := strategy.resolve(ctx, code)
		if err != nil {
			return Determination{}, err
		}
		if ok {
			return Determination{Email: email, Intent: strategy.intent}, nil
		}
	}
	return Determination{}, ErrVerificationCodeNotFound
}
