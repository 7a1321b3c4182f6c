package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/auth"
	"github.com/charlesng35/seatkeeper/internal/cache"
	"github.com/charlesng35/seatkeeper/internal/database/testutil"
	"github.com/charlesng35/seatkeeper/internal/models"
)

func TestCleanupRequests(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cutoff := now.AddDate(0, 0, -30)

	oldAccepted := seedInvite(t, db, "old@example.org", models.StatusAccepted, now.AddDate(0, 0, -45))
	seedInvite(t, db, "recent@example.org", models.StatusAccepted, now.AddDate(0, 0, -1))
	oldPending := seedInvite(t, db, "pending@example.org", models.StatusPending, now.AddDate(0, 0, -45))

	reactivation := &models.ReactivationRequest{Code: "r-old", Email: "gone@example.org", Status: models.StatusExpired}
	require.NoError(t, db.Create(reactivation).Error)
	age(t, db, reactivation, now.AddDate(0, 0, -40))

	stats, err := CleanupRequests(context.Background(), db, cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Invites)
	require.Equal(t, int64(1), stats.Reactivations)
	require.Equal(t, int64(0), stats.EmailChanges)
	require.Equal(t, int64(2), stats.Total())

	var invite models.InviteRequest
	require.ErrorIs(t, db.First(&invite, "id = ?", oldAccepted.ID).Error, gorm.ErrRecordNotFound)
	require.NoError(t, db.First(&invite, "id = ?", oldPending.ID).Error)

	_, err = CleanupRequests(context.Background(), nil, cutoff)
	require.Error(t, err)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := fixedClock{current: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}

	sessions, err := auth.NewSessionService(db, auth.SessionConfig{TTL: 24 * time.Hour, Clock: clock.Now})
	require.NoError(t, err)

	expired, err := sessions.CreateSession(context.Background(), "5c0a4a1e-2d0b-4b4b-9a57-0e0b1f1f0001", auth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expired.ID).
		Update("expires_at", clock.Now().Add(-2*time.Hour)).Error)
	active, err := sessions.CreateSession(context.Background(), "5c0a4a1e-2d0b-4b4b-9a57-0e0b1f1f0001", auth.SessionMetadata{})
	require.NoError(t, err)

	seedInvite(t, db, "old@example.org", models.StatusExpired, clock.Now().AddDate(0, 0, -10))

	store := cache.NewDatabaseStore(db, cache.WithDatabaseStoreClock(clock.Now))
	require.NoError(t, store.Set(context.Background(), "stale", []byte("x"), time.Minute))
	clock.current = clock.current.Add(time.Hour)

	c := NewCleaner(db, sessions,
		WithNow(clock.Now),
		WithRetentionDays(7),
		WithCachePurger(store),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, c.RunOnce(context.Background()))

	var remaining models.Session
	require.ErrorIs(t, db.First(&remaining, "id = ?", expired.ID).Error, gorm.ErrRecordNotFound)
	require.NoError(t, db.First(&remaining, "id = ?", active.ID).Error)

	var invites int64
	require.NoError(t, db.Model(&models.InviteRequest{}).Count(&invites).Error)
	require.Zero(t, invites)

	var entries int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&entries).Error)
	require.Zero(t, entries)

	state := c.State()
	require.Equal(t, 1, state.TotalRuns)
	require.Zero(t, state.ConsecutiveFailures)
	require.Equal(t, clock.Now(), state.LastRunAt)
}

func TestCleanerRunOnceCollectsErrors(t *testing.T) {
	c := NewCleaner(nil, failingPruner{}, WithCachePurger(failingPruner{}))
	err := c.RunOnce(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "sessions down")
	require.Contains(t, err.Error(), "cache down")

	require.Error(t, c.RunOnce(context.Background()))
	state := c.State()
	require.Equal(t, 2, state.TotalRuns)
	require.Equal(t, 2, state.ConsecutiveFailures)
	require.Contains(t, state.LastError, "sessions down")
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	c := NewCleaner(nil, nil, WithSchedule("every full moon"))
	require.Error(t, c.Start())
}

type failingPruner struct{}

func (failingPruner) CleanupExpired(context.Context) (int64, error) {
	return 0, errors.New("sessions down")
}

func (failingPruner) PurgeExpired(context.Context) (int64, error) {
	return 0, errors.New("cache down")
}

func seedInvite(t *testing.T, db *gorm.DB, email string, status models.RequestStatus, updatedAt time.Time) *models.InviteRequest {
	t.Helper()
	invite := &models.InviteRequest{Code: "code-" + email, ForEmail: email, Status: status}
	require.NoError(t, db.Create(invite).Error)
	age(t, db, invite, updatedAt)
	return invite
}

func age(t *testing.T, db *gorm.DB, model any, updatedAt time.Time) {
	t.Helper()
	require.NoError(t, db.Model(model).UpdateColumn("updated_at", updatedAt).Error)
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}
