package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/internal/notifications"
	"github.com/charlesng35/seatkeeper/internal/registry"
	apperrors "github.com/charlesng35/seatkeeper/pkg/errors"
	"github.com/charlesng35/seatkeeper/pkg/logger"
)

func codeFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	return u.Query().Get("code")
}

func TestCompleteSignupWithoutAgencyDomain(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	invite, err := f.coordinator.CreateInvite(ctx, "new@example.org", []string{"learner"}, "admin")
	require.NoError(t, err)

	sent := f.notifier.To("new@example.org", notifications.TemplateInvite)
	require.Len(t, sent, 1)
	assert.Equal(t, invite.Code, codeFromLink(t, sent[0].Vars["link"]))

	identity, err := f.coordinator.CompleteSignup(ctx, SignupInput{Code: invite.Code, Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "new@example.org", identity.Email)
	assert.True(t, identity.Active)
	assert.Equal(t, []string{"learner"}, []string(identity.Roles))
	assert.Equal(t, "plain:secret", identity.Password)
	assert.Nil(t, identity.AgencyTokenUID)

	var stored models.InviteRequest
	require.NoError(t, f.db.Take(&stored, "id = ?", invite.ID).Error)
	assert.Equal(t, models.StatusAccepted, stored.Status)

	_, err = f.coordinator.CompleteSignup(ctx, SignupInput{Code: invite.Code, Password: "secret"})
	require.ErrorIs(t, err, ErrCodeAlreadyUsed)
	assert.Len(t, f.notifier.To("new@example.org", notifications.TemplateSignupComplete), 1)
}

func TestCompleteSignupRequiresTokenForAgencyDomain(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "agency-secret", 2, "agency.gov.uk")

	invite, err := f.coordinator.CreateInvite(ctx, "new@agency.gov.uk", nil, "admin")
	require.NoError(t, err)

	_, err = f.coordinator.CompleteSignup(ctx, SignupInput{Code: invite.Code, Password: "secret"})
	require.ErrorIs(t, err, ErrAgencyTokenRequired)

	_, err = f.coordinator.CompleteSignup(ctx, SignupInput{Code: invite.Code, Password: "secret", Selection: selection("wrong")})
	require.ErrorIs(t, err, ErrResourceNotFound)

	identity, err := f.coordinator.CompleteSignup(ctx, SignupInput{Code: invite.Code, Password: "secret", Selection: selection("agency-secret")})
	require.NoError(t, err)
	assert.True(t, identity.HasToken(token.UID))
	assert.EqualValues(t, 1, f.bound(t, token.UID))
}

func TestCompleteSignupTokenMustCoverInviteDomain(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	f.token(t, "agency-secret", 2, "agency.gov.uk")
	f.token(t, "other-secret", 2, "other.gov.uk")

	invite, err := f.coordinator.CreateInvite(ctx, "new@agency.gov.uk", nil, "admin")
	require.NoError(t, err)

	sel := &registry.TokenSelection{Token: "other-secret", Domain: "other.gov.uk"}
	_, err = f.coordinator.CompleteSignup(ctx, SignupInput{Code: invite.Code, Password: "secret", Selection: sel})
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestCompleteSignupUsesAuthorisedInviteToken(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "agency-secret", 1, "agency.gov.uk")

	invite, err := f.coordinator.CreateInvite(ctx, "new@agency.gov.uk", nil, "admin")
	require.NoError(t, err)

	authorised, err := f.coordinator.AuthoriseInvite(ctx, invite.Code, registry.TokenSelection{Token: "agency-secret"})
	require.NoError(t, err)
	assert.True(t, authorised.Authorised)

	identity, err := f.coordinator.CompleteSignup(ctx, SignupInput{Code: invite.Code, Password: "secret"})
	require.NoError(t, err)
	assert.True(t, identity.HasToken(token.UID))
}

func TestAuthoriseInviteRejectsFullToken(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "agency-secret", 1, "agency.gov.uk")
	f.identity(t, "first@agency.gov.uk", true, token.UID)

	invite, err := f.coordinator.CreateInvite(ctx, "second@agency.gov.uk", nil, "admin")
	require.NoError(t, err)

	_, err = f.coordinator.AuthoriseInvite(ctx, invite.Code, registry.TokenSelection{Token: "agency-secret"})
	require.ErrorIs(t, err, ErrNotEnoughSpaceAvailable)
}

func TestCompleteSignupLastSeatRace(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "agency-secret", 1, "agency.gov.uk")

	var codes []string
	for i := 0; i < 2; i++ {
		invite, err := f.coordinator.CreateInvite(ctx, fmt.Sprintf("learner%d@agency.gov.uk", i), nil, "admin")
		require.NoError(t, err)
		codes = append(codes, invite.Code)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := make(chan struct{})
	for _, code := range codes {
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			<-start
			_, err := f.coordinator.CompleteSignup(ctx, SignupInput{Code: code, Password: "secret", Selection: selection("agency-secret")})
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(code)
	}
	close(start)
	wg.Wait()

	var admitted, full int
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, ErrNotEnoughSpaceAvailable):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, admitted)
	assert.Equal(t, 1, full)
	assert.EqualValues(t, 1, f.bound(t, token.UID))

	var pending int64
	require.NoError(t, f.db.Model(&models.InviteRequest{}).Where("status = ?", models.StatusPending).Count(&pending).Error)
	assert.EqualValues(t, 1, pending, "the losing invite stays pending")
}

func TestCreateInviteRejectsExistingIdentity(t *testing.T) {
	f := newLifecycleFixture(t)
	f.identity(t, "learner@example.org", true, "")

	_, err := f.coordinator.CreateInvite(context.Background(), "Learner@example.org", nil, "admin")
	require.ErrorIs(t, err, ErrEmailInUse)
}

func TestCreateInviteIsIdempotentWhilePending(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	first, err := f.coordinator.CreateInvite(ctx, "new@example.org", nil, "admin")
	require.NoError(t, err)
	second, err := f.coordinator.CreateInvite(ctx, "new@example.org", nil, "admin")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.notifier.To("new@example.org", notifications.TemplateInvite), 1)
}

func TestReactivationNonAgencyDomain(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	identity := f.identity(t, "sleeper@example.org", false, "")
	require.NoError(t, f.db.Model(identity).Updates(map[string]any{"locked": true, "failed_login_attempts": 4}).Error)

	req, err := f.coordinator.RequestReactivation(ctx, "sleeper@example.org")
	require.NoError(t, err)

	require.NoError(t, f.coordinator.CompleteReactivation(ctx, req.Code, nil))

	reloaded := f.reload(t, identity.ID)
	assert.True(t, reloaded.Active)
	assert.False(t, reloaded.Locked)
	assert.Zero(t, reloaded.FailedLoginAttempts)

	var stored models.ReactivationRequest
	require.NoError(t, f.db.Take(&stored, "id = ?", req.ID).Error)
	assert.Equal(t, models.StatusReactivated, stored.Status)
}

func TestReactivationOfActiveIdentityExpiresRequest(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	identity := f.identity(t, "sleeper@example.org", false, "")

	req, err := f.coordinator.RequestReactivation(ctx, "sleeper@example.org")
	require.NoError(t, err)
	require.NoError(t, f.identities.Activate(ctx, identity))

	require.ErrorIs(t, f.coordinator.CompleteReactivation(ctx, req.Code, nil), ErrIdentityAlreadyActive)

	var stored models.ReactivationRequest
	require.NoError(t, f.db.Take(&stored, "id = ?", req.ID).Error)
	assert.Equal(t, models.StatusExpired, stored.Status)

	_, err = f.coordinator.RequestReactivation(ctx, "sleeper@example.org")
	require.ErrorIs(t, err, ErrIdentityAlreadyActive)
}

func TestReactivationExpiredCode(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	f.identity(t, "sleeper@example.org", false, "")

	req, err := f.coordinator.RequestReactivation(ctx, "sleeper@example.org")
	require.NoError(t, err)
	f.clock.Advance(86401 * time.Second)

	require.ErrorIs(t, f.coordinator.CompleteReactivation(ctx, req.Code, nil), ErrCodeExpired)
	require.ErrorIs(t, f.coordinator.CompleteReactivation(ctx, "unknown", nil), ErrResourceNotFound)
}

func TestReactivationAgencyDomain(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	full := f.token(t, "full-secret", 1, "agency.gov.uk")
	open := f.token(t, "open-secret", 3, "agency.gov.uk")
	f.identity(t, "holder@agency.gov.uk", true, full.UID)
	identity := f.identity(t, "sleeper@agency.gov.uk", false, "")

	req, err := f.coordinator.RequestReactivation(ctx, "sleeper@agency.gov.uk")
	require.NoError(t, err)

	require.ErrorIs(t, f.coordinator.CompleteReactivation(ctx, req.Code, nil), ErrAgencyTokenRequired)
	require.ErrorIs(t, f.coordinator.CompleteReactivation(ctx, req.Code, selection("full-secret")), ErrNotEnoughSpaceAvailable)
	assert.False(t, f.reload(t, identity.ID).Active, "failed admission leaves the identity untouched")

	require.NoError(t, f.coordinator.CompleteReactivation(ctx, req.Code, selection("open-secret")))
	reloaded := f.reload(t, identity.ID)
	assert.True(t, reloaded.Active)
	assert.True(t, reloaded.HasToken(open.UID))
}

func TestReactivationKeepsExistingSeat(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "agency-secret", 1, "agency.gov.uk")
	identity := f.identity(t, "sleeper@agency.gov.uk", false, token.UID)

	req, err := f.coordinator.RequestReactivation(ctx, "sleeper@agency.gov.uk")
	require.NoError(t, err)

	require.NoError(t, f.coordinator.CompleteReactivation(ctx, req.Code, nil))
	reloaded := f.reload(t, identity.ID)
	assert.True(t, reloaded.Active)
	assert.True(t, reloaded.HasToken(token.UID))
	assert.EqualValues(t, 1, f.bound(t, token.UID))
}

func TestEmailChangeReleasesSeatOnPreviousToken(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	tokenA := f.token(t, "secret-a", 1, "alpha.gov.uk")
	tokenB := f.token(t, "secret-b", 1, "beta.gov.uk")
	identity := f.identity(t, "mover@alpha.gov.uk", true, tokenA.UID)
	waiting := f.identity(t, "waiting@alpha.gov.uk", true, "")

	require.ErrorIs(t, f.coordinator.AdmitToToken(ctx, tokenA.UID, waiting.ID), ErrNotEnoughSpaceAvailable)

	req, err := f.coordinator.RequestEmailChange(ctx, identity.ID, "mover@beta.gov.uk")
	require.NoError(t, err)
	sent := f.notifier.To("mover@beta.gov.uk", notifications.TemplateEmailChange)
	require.Len(t, sent, 1)
	assert.Equal(t, req.Code, codeFromLink(t, sent[0].Vars["link"]))

	require.ErrorIs(t, f.coordinator.CompleteEmailChange(ctx, req.Code, nil), ErrAgencyTokenRequired)
	require.NoError(t, f.coordinator.CompleteEmailChange(ctx, req.Code, selection("secret-b")))

	moved := f.reload(t, identity.ID)
	assert.Equal(t, "mover@beta.gov.uk", moved.Email)
	assert.True(t, moved.HasToken(tokenB.UID))
	assert.EqualValues(t, 0, f.bound(t, tokenA.UID))

	require.NoError(t, f.coordinator.AdmitToToken(ctx, tokenA.UID, waiting.ID))
	assert.True(t, f.reload(t, waiting.ID).HasToken(tokenA.UID))

	assert.Equal(t, []string{identity.ID}, f.sessions.signedOut())
	assert.Len(t, f.notifier.To("mover@alpha.gov.uk", notifications.TemplateEmailChanged), 1)
	assert.Len(t, f.notifier.To("mover@beta.gov.uk", notifications.TemplateEmailChanged), 1)

	_, err = f.emailChanges.Live(ctx, req.Code)
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestEmailChangeToNonAgencyDomainReleasesSeat(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "secret-a", 1, "alpha.gov.uk")
	identity := f.identity(t, "mover@alpha.gov.uk", true, token.UID)

	req, err := f.coordinator.RequestEmailChange(ctx, identity.ID, "mover@example.org")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.CompleteEmailChange(ctx, req.Code, nil))

	moved := f.reload(t, identity.ID)
	assert.Equal(t, "mover@example.org", moved.Email)
	assert.Nil(t, moved.AgencyTokenUID)
	assert.EqualValues(t, 0, f.bound(t, token.UID))
}

func TestEmailChangeKeepsTokenCoveringNewDomain(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "secret-a", 1, "alpha.gov.uk", "alpha.nhs.uk")
	identity := f.identity(t, "mover@alpha.gov.uk", true, token.UID)

	req, err := f.coordinator.RequestEmailChange(ctx, identity.ID, "mover@alpha.nhs.uk")
	require.NoError(t, err)
	require.NoError(t, f.coordinator.CompleteEmailChange(ctx, req.Code, nil))

	moved := f.reload(t, identity.ID)
	assert.True(t, moved.HasToken(token.UID))
	assert.EqualValues(t, 1, f.bound(t, token.UID))
}

func TestEmailChangeFullTargetTokenRollsBack(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	tokenA := f.token(t, "secret-a", 1, "alpha.gov.uk")
	tokenB := f.token(t, "secret-b", 1, "beta.gov.uk")
	identity := f.identity(t, "mover@alpha.gov.uk", true, tokenA.UID)
	f.identity(t, "holder@beta.gov.uk", true, tokenB.UID)

	req, err := f.coordinator.RequestEmailChange(ctx, identity.ID, "mover@beta.gov.uk")
	require.NoError(t, err)
	require.ErrorIs(t, f.coordinator.CompleteEmailChange(ctx, req.Code, selection("secret-b")), ErrNotEnoughSpaceAvailable)

	unchanged := f.reload(t, identity.ID)
	assert.Equal(t, "mover@alpha.gov.uk", unchanged.Email)
	assert.True(t, unchanged.HasToken(tokenA.UID))

	live, err := f.emailChanges.Live(ctx, req.Code)
	require.NoError(t, err)
	assert.Equal(t, req.ID, live.ID)
	assert.Empty(t, f.sessions.signedOut())
}

func TestEmailChangeGuards(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	identity := f.identity(t, "mover@example.org", true, "")
	f.identity(t, "taken@example.org", true, "")

	_, err := f.coordinator.RequestEmailChange(ctx, identity.ID, "taken@example.org")
	require.ErrorIs(t, err, ErrEmailInUse)
	_, err = f.coordinator.RequestEmailChange(ctx, identity.ID, "MOVER@example.org")
	require.ErrorIs(t, err, ErrEmailInUse)
	_, err = f.coordinator.RequestEmailChange(ctx, identity.ID, "nonsense")
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrBadRequest.Code, appErr.Code)
	_, err = f.coordinator.RequestEmailChange(ctx, "missing", "x@example.org")
	require.ErrorIs(t, err, ErrResourceNotFound)

	req, err := f.coordinator.RequestEmailChange(ctx, identity.ID, "fresh@example.org")
	require.NoError(t, err)
	f.identity(t, "fresh@example.org", true, "")
	require.ErrorIs(t, f.coordinator.CompleteEmailChange(ctx, req.Code, nil), ErrEmailInUse)

	f.clock.Advance(86401 * time.Second)
	require.ErrorIs(t, f.coordinator.CompleteEmailChange(ctx, req.Code, nil), ErrCodeExpired)
}

func TestEmailChangeWhenIdentityMovedAway(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	identity := f.identity(t, "mover@example.org", true, "")

	req, err := f.coordinator.RequestEmailChange(ctx, identity.ID, "next@example.org")
	require.NoError(t, err)
	require.NoError(t, f.identities.ChangeEmail(ctx, identity, "elsewhere@example.org"))

	require.ErrorIs(t, f.coordinator.CompleteEmailChange(ctx, req.Code, nil), ErrResourceNotFound)
}

func TestTokenAssignmentFlow(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	old := f.token(t, "old-secret", 1, "agency.gov.uk")
	next := f.token(t, "new-secret", 1, "agency.gov.uk")
	identity := f.identity(t, "learner@agency.gov.uk", true, old.UID)

	code, err := f.coordinator.IssueAssignmentCode(ctx, "learner@agency.gov.uk")
	require.NoError(t, err)
	sent := f.notifier.To("learner@agency.gov.uk", notifications.TemplateTokenAssignment)
	require.Len(t, sent, 1)
	assert.Equal(t, code, codeFromLink(t, sent[0].Vars["link"]))

	det, err := f.coordinator.ResolveVerificationCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, IntentAssignAgencyToken, det.Intent)

	_, err = f.coordinator.CompleteTokenAssignment(ctx, code, registry.TokenSelection{})
	require.ErrorIs(t, err, ErrAgencyTokenRequired)

	assigned, err := f.coordinator.CompleteTokenAssignment(ctx, code, registry.TokenSelection{Token: "new-secret"})
	require.NoError(t, err)
	assert.True(t, assigned.HasToken(next.UID))
	assert.True(t, f.reload(t, identity.ID).HasToken(next.UID))
	assert.EqualValues(t, 0, f.bound(t, old.UID))
	assert.EqualValues(t, 1, f.bound(t, next.UID))
}

func TestTokenAssignmentRejectsOtherIntents(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	f.token(t, "agency-secret", 1, "agency.gov.uk")
	f.identity(t, "sleeper@agency.gov.uk", false, "")

	req, err := f.coordinator.RequestReactivation(ctx, "sleeper@agency.gov.uk")
	require.NoError(t, err)

	_, err = f.coordinator.CompleteTokenAssignment(ctx, req.Code, registry.TokenSelection{Token: "agency-secret"})
	require.ErrorIs(t, err, ErrVerificationCodeNotFound)

	_, err = f.coordinator.IssueAssignmentCode(ctx, "sleeper@agency.gov.uk")
	require.ErrorIs(t, err, ErrResourceNotFound)
}

func TestAdmitAndReleaseIdentity(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	token := f.token(t, "agency-secret", 1, "agency.gov.uk")
	first := f.identity(t, "first@agency.gov.uk", true, "")
	second := f.identity(t, "second@agency.gov.uk", true, "")

	require.NoError(t, f.coordinator.AdmitToToken(ctx, token.UID, first.ID))
	require.NoError(t, f.coordinator.AdmitToToken(ctx, token.UID, first.ID), "re-admitting a bound identity is a no-op")
	require.ErrorIs(t, f.coordinator.AdmitToToken(ctx, token.UID, second.ID), ErrNotEnoughSpaceAvailable)
	require.ErrorIs(t, f.coordinator.AdmitToToken(ctx, "missing-token", second.ID), ErrResourceNotFound)
	require.ErrorIs(t, f.coordinator.AdmitToToken(ctx, token.UID, "missing-identity"), ErrResourceNotFound)

	require.NoError(t, f.coordinator.ReleaseIdentity(ctx, first.ID))
	require.NoError(t, f.coordinator.ReleaseIdentity(ctx, first.ID))
	require.NoError(t, f.coordinator.AdmitToToken(ctx, token.UID, second.ID))
	assert.EqualValues(t, 1, f.bound(t, token.UID))
}

func TestFinishLogsOnlySystemErrorsAtErrorLevel(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	t.Cleanup(logger.Replace(zap.New(core)))

	c := &Coordinator{}
	require.NoError(t, c.finish(FlowSignup, nil))

	err := c.finish(FlowSignup, errors.New("database is on fire"))
	require.ErrorIs(t, err, ErrGenericSystem)
	require.ErrorIs(t, c.finish(FlowSignup, ErrNotEnoughSpaceAvailable), ErrNotEnoughSpaceAvailable)
	require.ErrorIs(t, c.finish(FlowSignup, registry.ErrTokenNotFound), ErrResourceNotFound)
	require.ErrorIs(t, c.finish(FlowResolve, ErrVerificationCodeNotFound), ErrVerificationCodeNotFound)

	errorsLogged := recorded.FilterLevelExact(zap.ErrorLevel).All()
	require.Len(t, errorsLogged, 1)
	assert.Equal(t, "GENERIC_SYSTEM_ERROR", errorsLogged[0].ContextMap()["code"])
	assert.Equal(t, 1, recorded.FilterLevelExact(zap.WarnLevel).Len())
	assert.Equal(t, 2, recorded.FilterLevelExact(zap.InfoLevel).Len())
}

func TestNewCoordinatorValidatesDependencies(t *testing.T) {
	_, err := NewCoordinator(CoordinatorDeps{})
	require.Error(t, err)
}
