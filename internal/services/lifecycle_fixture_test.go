package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/database/testutil"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/internal/notifications"
	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/seats"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock { return &testClock{now: testEpoch} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "plain:" + password, nil }
func (plainHasher) Verify(hash, password string) bool    { return hash == "plain:"+password }

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingInvalidator) ForceSignOut(_ context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, identityID)
	return nil
}

func (r *recordingInvalidator) signedOut() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type lifecycleFixture struct {
	db            *gorm.DB
	clock         *testClock
	registry      *registry.Store
	allocator     *seats.Allocator
	identities    *IdentityService
	invites       *InviteService
	reactivations *ReactivationService
	emailChanges  *EmailChangeService
	codec         AssignmentCodec
	resolver      *Resolver
	notifier      *notifications.Recorder
	sessions      *recordingInvalidator
	coordinator   *Coordinator
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := newTestClock()

	reg, err := registry.NewStore(db)
	require.NoError(t, err)
	ledger, err := seats.NewLedger(reg, db)
	require.NoError(t, err)
	allocator, err := seats.NewAllocator(db, ledger, seats.WithAllocatorClock(clock.Now))
	require.NoError(t, err)

	identities, err := NewIdentityService(db, WithPasswordHasher(plainHasher{}), WithIdentityClock(clock.Now))
	require.NoError(t, err)
	invites, err := NewInviteService(db, WithInviteClock(clock.Now))
	require.NoError(t, err)
	reactivations, err := NewReactivationService(db, WithReactivationClock(clock.Now))
	require.NoError(t, err)
	emailChanges, err := NewEmailChangeService(db, WithEmailChangeClock(clock.Now))
	require.NoError(t, err)

	codec, err := NewAssignmentCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	resolver, err := NewResolver(reactivations, emailChanges, identities, codec)
	require.NoError(t, err)

	notifier := &notifications.Recorder{}
	sessions := &recordingInvalidator{}
	coordinator, err := NewCoordinator(CoordinatorDeps{
		DB:            db,
		Registry:      reg,
		Allocator:     allocator,
		Identities:    identities,
		Invites:       invites,
		Reactivations: reactivations,
		EmailChanges:  emailChanges,
		Resolver:      resolver,
		Codec:         codec,
		Notifier:      notifier,
		Sessions:      sessions,
		BaseURL:       "https://learn.example.org",
	}, WithAsyncRunner(func(f func()) { f() }))
	require.NoError(t, err)

	return &lifecycleFixture{
		db:            db,
		clock:         clock,
		registry:      reg,
		allocator:     allocator,
		identities:    identities,
		invites:       invites,
		reactivations: reactivations,
		emailChanges:  emailChanges,
		codec:         codec,
		resolver:      resolver,
		notifier:      notifier,
		sessions:      sessions,
		coordinator:   coordinator,
	}
}

func (f *lifecycleFixture) token(t *testing.T, secret string, capacity int, domains ...string) *registry.AgencyToken {
	t.Helper()
	token, err := f.registry.CreateToken(context.Background(), registry.CreateTokenInput{
		Token:    secret,
		Capacity: capacity,
		Domains:  domains,
	})
	require.NoError(t, err)
	return token
}

func (f *lifecycleFixture) identity(t *testing.T, email string, active bool, tokenUID string) *models.Identity {
	t.Helper()
	identity, err := f.identities.Create(context.Background(), CreateIdentityInput{
		Email:          email,
		PasswordHash:   "plain:secret",
		AgencyTokenUID: tokenUID,
	})
	require.NoError(t, err)
	if !active {
		require.NoError(t, f.identities.Deactivate(context.Background(), identity))
	}
	return identity
}

func (f *lifecycleFixture) reload(t *testing.T, id string) *models.Identity {
	t.Helper()
	identity, err := f.identities.Get(context.Background(), id)
	require.NoError(t, err)
	return identity
}

func (f *lifecycleFixture) bound(t *testing.T, tokenUID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&models.Identity{}).Where("agency_token_uid = ?", tokenUID).Count(&count).Error)
	return count
}

func selection(secret string) *registry.TokenSelection {
	return &registry.TokenSelection{Token: secret}
}
