package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/internal/notifications"
	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/seats"
	apperrors "github.com/charlesng35/seatkeeper/pkg/errors"
	"github.com/charlesng35/seatkeeper/pkg/logger"
	"github.com/charlesng35/seatkeeper/pkg/metrics"
)

// Flow names used for logging and the lifecycle outcome metric.
const (
	FlowResolve             = "resolve"
	FlowAdmit               = "admit"
	FlowRelease             = "release"
	FlowInvite              = "invite"
	FlowAuthoriseInvite     = "authorise_invite"
	FlowSignup              = "signup"
	FlowRequestReactivation = "request_reactivation"
	FlowReactivation        = "reactivation"
	FlowRequestEmailChange  = "request_email_change"
	FlowEmailChange         = "email_change"
	FlowIssueAssignment     = "issue_assignment"
	FlowTokenAssignment     = "token_assignment"
)

// SessionInvalidator signs an identity out everywhere. Calls are best-effort.
type SessionInvalidator interface {
	ForceSignOut(ctx context.Context, identityID string) error
}

// SignupInput carries the fields needed to complete an invite.
type SignupInput struct {
	Code      string
	Password  string
	Selection *registry.TokenSelection
}

// Coordinator orchestrates the identity lifecycle flows: resolve the code, admit to an
// agency token when needed, mutate the identity, finalize the request and notify.
//
// Agency flows run their identity mutation and request finalization as the allocator's
// bind step, so admission, mutation and finalization commit or roll back together.
type Coordinator struct {
	db            *gorm.DB
	registry      registry.Registry
	allocator     *seats.Allocator
	identities    *IdentityService
	invites       *InviteService
	reactivations *ReactivationService
	emailChanges  *EmailChangeService
	resolver      *Resolver
	codec         AssignmentCodec
	notifier      notifications.Sender
	sessions      SessionInvalidator
	links         *url.URL
	async         func(func())
}

// CoordinatorDeps lists the Coordinator's collaborators.
type CoordinatorDeps struct {
	DB            *gorm.DB
	Registry      registry.Registry
	Allocator     *seats.Allocator
	Identities    *IdentityService
	Invites       *InviteService
	Reactivations *ReactivationService
	EmailChanges  *EmailChangeService
	Resolver      *Resolver
	Codec         AssignmentCodec
	Notifier      notifications.Sender
	Sessions      SessionInvalidator
	// BaseURL prefixes the links placed in notifications.
	BaseURL string
}

// CoordinatorOption customises a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithAsyncRunner replaces the goroutine used for notifications and forced sign-out.
func WithAsyncRunner(run func(func())) CoordinatorOption {
	return func(c *Coordinator) {
		if run != nil {
			c.async = run
		}
	}
}

// NewCoordinator validates deps and builds a Coordinator.
func NewCoordinator(deps CoordinatorDeps, opts ...CoordinatorOption) (*Coordinator, error) {
	switch {
	case deps.DB == nil:
		return nil, errors.New("coordinator: db is required")
	case deps.Registry == nil:
		return nil, errors.New("coordinator: registry is required")
	case deps.Allocator == nil:
		return nil, errors.New("coordinator: allocator is required")
	case deps.Identities == nil || deps.Invites == nil || deps.Reactivations == nil || deps.EmailChanges == nil:
		return nil, errors.New("coordinator: identity and lifecycle services are required")
	case deps.Resolver == nil || deps.Codec == nil:
		return nil, errors.New("coordinator: resolver and codec are required")
	case deps.Notifier == nil:
		return nil, errors.New("coordinator: notifier is required")
	}

	base := strings.TrimSpace(deps.BaseURL)
	if base == "" {
		base = "http://localhost:8000"
	}
	links, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("coordinator: invalid base url: %w", err)
	}

	c := &Coordinator{
		db:            deps.DB,
		registry:      deps.Registry,
		allocator:     deps.Allocator,
		identities:    deps.Identities,
		invites:       deps.Invites,
		reactivations: deps.Reactivations,
		emailChanges:  deps.EmailChanges,
		resolver:      deps.Resolver,
		codec:         deps.Codec,
		notifier:      deps.Notifier,
		sessions:      deps.Sessions,
		links:         links,
		async:         func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ResolveVerificationCode reports which workflow code belongs to.
func (c *Coordinator) ResolveVerificationCode(ctx context.Context, code string) (Determination, error) {
	det, err := c.resolver.Resolve(ctx, code)
	return det, c.finish(FlowResolve, err)
}

// AdmitToToken binds identityID to tokenUID, releasing any seat it held elsewhere.
func (c *Coordinator) AdmitToToken(ctx context.Context, tokenUID, identityID string) error {
	identity, err := c.identities.Get(ctx, identityID)
	if err != nil {
		return c.finish(FlowAdmit, err)
	}
	if identity.HasToken(tokenUID) {
		return c.finish(FlowAdmit, nil)
	}
	err = c.allocator.Admit(ctx, tokenUID, func(ctx context.Context) error {
		return c.rebind(ctx, identity, tokenUID)
	})
	return c.finish(FlowAdmit, err)
}

// ReleaseIdentity gives back the seat held by identityID, if any.
func (c *Coordinator) ReleaseIdentity(ctx context.Context, identityID string) error {
	identity, err := c.identities.Get(ctx, identityID)
	if err != nil {
		return c.finish(FlowRelease, err)
	}
	if identity.AgencyTokenUID != nil {
		_, err = c.allocator.Release(ctx, *identity.AgencyTokenUID, identity.ID)
	}
	return c.finish(FlowRelease, err)
}

// CreateInvite issues an invite for email and sends its link. An invite already pending for
// the address is returned without sending another notification.
func (c *Coordinator) CreateInvite(ctx context.Context, email string, roles []string, invitedBy string) (*models.InviteRequest, error) {
	existing, err := c.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, c.finish(FlowInvite, err)
	}
	if existing != nil {
		return nil, c.finish(FlowInvite, ErrEmailInUse)
	}

	invite, created, err := c.invites.Create(ctx, email, roles, invitedBy)
	if err != nil {
		return nil, c.finish(FlowInvite, err)
	}
	if created {
		c.notify(ctx, invite.ForEmail, notifications.TemplateInvite, map[string]string{
			"link":     c.link("/signup", invite.Code),
			"validity": c.invites.table.ttl.String(),
		})
	}
	return invite, c.finish(FlowInvite, nil)
}

// AuthoriseInvite checks sel against the registry and remembers the token on the invite.
// The seat check is advisory; CompleteSignup admits atomically.
func (c *Coordinator) AuthoriseInvite(ctx context.Context, code string, sel registry.TokenSelection) (*models.InviteRequest, error) {
	invite, err := c.invites.Live(ctx, code)
	if err != nil {
		return nil, c.finish(FlowAuthoriseInvite, err)
	}

	token, err := c.findToken(ctx, sel, models.EmailDomain(invite.ForEmail))
	if err != nil {
		return nil, c.finish(FlowAuthoriseInvite, err)
	}
	free, err := c.allocator.Available(ctx, token.UID)
	if err != nil {
		return nil, c.finish(FlowAuthoriseInvite, err)
	}
	if free == 0 {
		return nil, c.finish(FlowAuthoriseInvite, ErrNotEnoughSpaceAvailable)
	}

	if err := c.invites.Authorise(ctx, invite, token.UID); err != nil {
		return nil, c.finish(FlowAuthoriseInvite, err)
	}
	return invite, c.finish(FlowAuthoriseInvite, nil)
}

// CompleteSignup creates the identity for an invite. Agency domains need a token selection
// or an authorised invite; otherwise ErrAgencyTokenRequired is returned and the invite stays
// PENDING. On capacity exhaustion the invite also stays PENDING.
func (c *Coordinator) CompleteSignup(ctx context.Context, in SignupInput) (*models.Identity, error) {
	identity, err := c.completeSignup(ctx, in)
	return identity, c.finish(FlowSignup, err)
}

func (c *Coordinator) completeSignup(ctx context.Context, in SignupInput) (*models.Identity, error) {
	if strings.TrimSpace(in.Password) == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	invite, err := c.invites.Live(ctx, in.Code)
	if err != nil {
		return nil, err
	}
	existing, err := c.identities.FindByEmail(ctx, invite.ForEmail)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailInUse
	}

	domain := models.EmailDomain(invite.ForEmail)
	var tokenUID string
	switch {
	case in.Selection != nil && !in.Selection.Empty():
		token, err := c.findToken(ctx, *in.Selection, domain)
		if err != nil {
			return nil, err
		}
		tokenUID = token.UID
	case invite.Authorised && invite.AgencyTokenUID != nil:
		tokenUID = *invite.AgencyTokenUID
	default:
		agency, err := c.registry.IsAgencyDomain(ctx, domain)
		if err != nil {
			return nil, err
		}
		if agency {
			return nil, ErrAgencyTokenRequired
		}
	}

	hash, err := c.identities.Hasher().Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("signup: hash password: %w", err)
	}

	var identity *models.Identity
	mutate := func(ctx context.Context) error {
		created, err := c.identities.Create(ctx, CreateIdentityInput{
			Email:          invite.ForEmail,
			PasswordHash:   hash,
			Roles:          invite.Roles,
			AgencyTokenUID: tokenUID,
		})
		if err != nil {
			return err
		}
		if err := c.invites.Accept(ctx, invite); err != nil {
			return err
		}
		identity = created
		return nil
	}

	if tokenUID != "" {
		err = c.allocator.Admit(ctx, tokenUID, mutate)
	} else {
		err = database.InTx(ctx, c.db, mutate)
	}
	if err != nil {
		return nil, err
	}

	c.notify(ctx, identity.Email, notifications.TemplateSignupComplete, map[string]string{"email": identity.Email})
	return identity, nil
}

// RequestReactivation issues a reactivation code for an inactive identity.
func (c *Coordinator) RequestReactivation(ctx context.Context, email string) (*models.ReactivationRequest, error) {
	identity, err := c.identities.FindByEmail(ctx, email)
	if err != nil {
		return nil, c.finish(FlowRequestReactivation, err)
	}
	if identity == nil {
		return nil, c.finish(FlowRequestReactivation, ErrResourceNotFound)
	}
	if identity.Active {
		return nil, c.finish(FlowRequestReactivation, ErrIdentityAlreadyActive)
	}

	req, created, err := c.reactivations.Create(ctx, identity.Email)
	if err != nil {
		return nil, c.finish(FlowRequestReactivation, err)
	}
	if created {
		c.notify(ctx, req.Email, notifications.TemplateReactivation, map[string]string{
			"link":     c.link("/reactivate", req.Code),
			"validity": c.reactivations.table.ttl.String(),
		})
	}
	return req, c.finish(FlowRequestReactivation, nil)
}

// CompleteReactivation reactivates the identity behind code. A reactivation for an identity
// that is already active is stale: it is expired and ErrIdentityAlreadyActive returned.
func (c *Coordinator) CompleteReactivation(ctx context.Context, code string, sel *registry.TokenSelection) error {
	return c.finish(FlowReactivation, c.completeReactivation(ctx, code, sel))
}

func (c *Coordinator) completeReactivation(ctx context.Context, code string, sel *registry.TokenSelection) error {
	req, err := c.reactivations.Live(ctx, code)
	if err != nil {
		return err
	}
	identity, err := c.identities.FindByEmail(ctx, req.Email)
	if err != nil {
		return err
	}
	if identity == nil {
		return ErrResourceNotFound
	}
	if identity.Active {
		if _, err := c.reactivations.MarkExpired(ctx, req); err != nil {
			return err
		}
		return ErrIdentityAlreadyActive
	}

	agency, err := c.registry.IsAgencyDomain(ctx, identity.Domain())
	if err != nil {
		return err
	}

	var tokenUID string
	if agency {
		switch {
		case sel != nil && !sel.Empty():
			token, err := c.findToken(ctx, *sel, identity.Domain())
			if err != nil {
				return err
			}
			tokenUID = token.UID
		case identity.AgencyTokenUID != nil:
			tokenUID = *identity.AgencyTokenUID
		default:
			return ErrAgencyTokenRequired
		}
	}

	mutate := func(ctx context.Context) error {
		if tokenUID != "" {
			if err := c.rebind(ctx, identity, tokenUID); err != nil {
				return err
			}
		}
		if err := c.identities.Activate(ctx, identity); err != nil {
			return err
		}
		return c.reactivations.Complete(ctx, req)
	}

	if tokenUID != "" && !identity.HasToken(tokenUID) {
		err = c.allocator.Admit(ctx, tokenUID, mutate)
	} else {
		err = database.InTx(ctx, c.db, mutate)
	}
	if err != nil {
		return err
	}

	c.notify(ctx, identity.Email, notifications.TemplateReactivated, map[string]string{"email": identity.Email})
	return nil
}

// RequestEmailChange issues a confirmation code sent to newEmail. A pending request for a
// different new address is superseded.
func (c *Coordinator) RequestEmailChange(ctx context.Context, identityID, newEmail string) (*models.EmailChangeRequest, error) {
	identity, err := c.identities.Get(ctx, identityID)
	if err != nil {
		return nil, c.finish(FlowRequestEmailChange, err)
	}
	newEmail = models.NormalizeEmail(newEmail)
	if models.EmailDomain(newEmail) == "" {
		return nil, c.finish(FlowRequestEmailChange, apperrors.NewBadRequest("a valid new email is required"))
	}
	if newEmail == identity.Email {
		return nil, c.finish(FlowRequestEmailChange, ErrEmailInUse)
	}
	other, err := c.identities.FindByEmail(ctx, newEmail)
	if err != nil {
		return nil, c.finish(FlowRequestEmailChange, err)
	}
	if other != nil {
		return nil, c.finish(FlowRequestEmailChange, ErrEmailInUse)
	}

	req, created, err := c.emailChanges.Create(ctx, identity.ID, identity.Email, newEmail)
	if err != nil {
		return nil, c.finish(FlowRequestEmailChange, err)
	}
	if created {
		c.notify(ctx, req.NewEmail, notifications.TemplateEmailChange, map[string]string{
			"new_email": req.NewEmail,
			"link":      c.link("/email-change", req.Code),
			"validity":  c.emailChanges.table.ttl.String(),
		})
	}
	return req, c.finish(FlowRequestEmailChange, nil)
}

// CompleteEmailChange moves the identity to the request's new email. When the new domain
// needs an agency token the identity is admitted to it, and any seat held on its previous
// token is released in the same transaction. The request is deleted and the identity's
// sessions are revoked asynchronously.
func (c *Coordinator) CompleteEmailChange(ctx context.Context, code string, sel *registry.TokenSelection) error {
	return c.finish(FlowEmailChange, c.completeEmailChange(ctx, code, sel))
}

func (c *Coordinator) completeEmailChange(ctx context.Context, code string, sel *registry.TokenSelection) error {
	req, err := c.emailChanges.Live(ctx, code)
	if err != nil {
		return err
	}
	identity, err := c.identities.FindByEmail(ctx, req.PreviousEmail)
	if err != nil {
		return err
	}
	if identity == nil || identity.ID != req.IdentityID {
		return ErrResourceNotFound
	}
	other, err := c.identities.FindByEmail(ctx, req.NewEmail)
	if err != nil {
		return err
	}
	if other != nil {
		return ErrEmailInUse
	}

	newDomain := models.EmailDomain(req.NewEmail)
	agency, err := c.registry.IsAgencyDomain(ctx, newDomain)
	if err != nil {
		return err
	}

	var tokenUID string
	if agency {
		switch {
		case sel != nil && !sel.Empty():
			token, err := c.findToken(ctx, *sel, newDomain)
			if err != nil {
				return err
			}
			tokenUID = token.UID
		default:
			kept, err := c.tokenCovering(ctx, identity, newDomain)
			if err != nil {
				return err
			}
			if kept == "" {
				return ErrAgencyTokenRequired
			}
			tokenUID = kept
		}
	}

	previousEmail := identity.Email
	mutate := func(ctx context.Context) error {
		if err := c.rebind(ctx, identity, tokenUID); err != nil {
			return err
		}
		if err := c.identities.ChangeEmail(ctx, identity, req.NewEmail); err != nil {
			return err
		}
		return c.emailChanges.Complete(ctx, req)
	}

	if tokenUID != "" && !identity.HasToken(tokenUID) {
		err = c.allocator.Admit(ctx, tokenUID, mutate)
	} else {
		err = database.InTx(ctx, c.db, mutate)
	}
	if err != nil {
		return err
	}

	identityID := identity.ID
	if c.sessions != nil {
		c.background(ctx, func(ctx context.Context) {
			if err := c.sessions.ForceSignOut(ctx, identityID); err != nil {
				logger.WithModule("lifecycle").Warn("forced sign-out failed",
					zap.String("identity_id", identityID),
					zap.Error(err),
				)
			}
		})
	}
	vars := map[string]string{"previous_email": previousEmail, "new_email": identity.Email}
	c.notify(ctx, previousEmail, notifications.TemplateEmailChanged, vars)
	c.notify(ctx, identity.Email, notifications.TemplateEmailChanged, vars)
	return nil
}

// IssueAssignmentCode builds the reversible agency-token assignment code for an active
// identity and sends the link.
func (c *Coordinator) IssueAssignmentCode(ctx context.Context, email string) (string, error) {
	identity, err := c.identities.FindByEmail(ctx, email)
	if err != nil {
		return "", c.finish(FlowIssueAssignment, err)
	}
	if identity == nil || !identity.Active {
		return "", c.finish(FlowIssueAssignment, ErrResourceNotFound)
	}

	code, err := c.codec.Encode(identity.Email)
	if err != nil {
		return "", c.finish(FlowIssueAssignment, err)
	}
	c.notify(ctx, identity.Email, notifications.TemplateTokenAssignment, map[string]string{
		"link": c.link("/agency-token", code),
	})
	return code, c.finish(FlowIssueAssignment, nil)
}

// CompleteTokenAssignment admits the identity behind an assignment code to the selected
// token, releasing any previous seat.
func (c *Coordinator) CompleteTokenAssignment(ctx context.Context, code string, sel registry.TokenSelection) (*models.Identity, error) {
	identity, err := c.completeTokenAssignment(ctx, code, sel)
	return identity, c.finish(FlowTokenAssignment, err)
}

func (c *Coordinator) completeTokenAssignment(ctx context.Context, code string, sel registry.TokenSelection) (*models.Identity, error) {
	det, err := c.resolver.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	if det.Intent != IntentAssignAgencyToken {
		return nil, ErrVerificationCodeNotFound
	}
	identity, err := c.identities.FindByEmail(ctx, det.Email)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, ErrResourceNotFound
	}
	if sel.Empty() {
		return nil, ErrAgencyTokenRequired
	}

	token, err := c.findToken(ctx, sel, identity.Domain())
	if err != nil {
		return nil, err
	}
	if identity.HasToken(token.UID) {
		return identity, nil
	}

	if err := c.allocator.Admit(ctx, token.UID, func(ctx context.Context) error {
		return c.rebind(ctx, identity, token.UID)
	}); err != nil {
		return nil, err
	}

	c.notify(ctx, identity.Email, notifications.TemplateTokenAssigned, nil)
	return identity, nil
}

// rebind moves identity onto tokenUID ("" unbinds), returning the seat on its previous token.
func (c *Coordinator) rebind(ctx context.Context, identity *models.Identity, tokenUID string) error {
	if identity.HasToken(tokenUID) {
		return nil
	}
	if previous := identity.AgencyTokenUID; previous != nil {
		if _, err := c.allocator.Release(ctx, *previous, identity.ID); err != nil {
			return err
		}
		identity.AgencyTokenUID = nil
	}
	if tokenUID == "" {
		return nil
	}
	return c.identities.BindToken(ctx, identity, tokenUID)
}

// findToken resolves sel with its domain pinned to the email domain the seat is for.
func (c *Coordinator) findToken(ctx context.Context, sel registry.TokenSelection, domain string) (*registry.AgencyToken, error) {
	sel = sel.Normalize()
	if sel.Empty() {
		return nil, ErrAgencyTokenRequired
	}
	sel.Domain = domain
	return c.registry.FindToken(ctx, sel)
}

// tokenCovering returns the identity's current token uid when that token also covers domain.
func (c *Coordinator) tokenCovering(ctx context.Context, identity *models.Identity, domain string) (string, error) {
	if identity.AgencyTokenUID == nil {
		return "", nil
	}
	token, err := c.registry.GetToken(ctx, *identity.AgencyTokenUID)
	if errors.Is(err, registry.ErrTokenNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for _, d := range token.Domains {
		if strings.EqualFold(d, domain) {
			return token.UID, nil
		}
	}
	return "", nil
}

func (c *Coordinator) link(path, code string) string {
	u := *c.links
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = url.Values{"code": {code}}.Encode()
	return u.String()
}

// background runs fn on the async runner with a context detached from ctx's cancellation.
func (c *Coordinator) background(ctx context.Context, fn func(ctx context.Context)) {
	detached := context.WithoutCancel(ctx)
	c.async(func() {
		ctx, cancel := context.WithTimeout(detached, 30*time.Second)
		defer cancel()
		fn(ctx)
	})
}

// notify sends asynchronously. Failures are logged, never returned.
func (c *Coordinator) notify(ctx context.Context, to string, tmpl notifications.Template, vars map[string]string) {
	msg := notifications.Message{To: to, Template: tmpl, Vars: vars}
	c.background(ctx, func(ctx context.Context) {
		if err := c.notifier.Send(ctx, msg); err != nil {
			logger.WithModule("lifecycle").Warn("notification failed",
				zap.String("template", string(tmpl)),
				zap.Error(err),
			)
		}
	})
}

// finish translates err onto the lifecycle taxonomy, records the outcome and logs it.
// Only unexpected failures are logged at error level.
func (c *Coordinator) finish(flow string, err error) error {
	if err == nil {
		metrics.LifecycleOutcomes.WithLabelValues(flow, "ok").Inc()
		return nil
	}

	appErr := translate(err)
	metrics.LifecycleOutcomes.WithLabelValues(flow, strings.ToLower(appErr.Code)).Inc()

	log := logger.WithModule("lifecycle").With(zap.String("flow", flow), zap.String("code", appErr.Code))
	switch {
	case errors.Is(appErr, ErrGenericSystem):
		log.Error("lifecycle flow failed", zap.Error(appErr.Internal))
	case errors.Is(appErr, ErrNotEnoughSpaceAvailable), errors.Is(appErr, ErrCodeExpired):
		log.Warn("lifecycle flow rejected")
	default:
		log.Info("lifecycle flow rejected")
	}
	return appErr
}
