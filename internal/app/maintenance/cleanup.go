package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/pkg/logger"
)

const (
	defaultRetentionDays = 30
	defaultSchedule      = "@hourly"
)

// SessionPruner removes sessions that can no longer be used.
type SessionPruner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CachePurger drops expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner runs housekeeping on a cron schedule: pruning sessions, removing finished
// lifecycle requests past retention and purging the database cache.
type Cleaner struct {
	db        *gorm.DB
	sessions  SessionPruner
	cache     CachePurger
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int
	schedule  string

	mu    sync.Mutex
	state RunState
}

// RunState summarises the cleaner's recent runs.
type RunState struct {
	TotalRuns           int
	ConsecutiveFailures int
	LastRunAt           time.Time
	LastError           string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithRetentionDays adjusts how long finished requests are kept.
func WithRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSchedule overrides the cron specification.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithCachePurger enables purging of a database-backed cache.
func WithCachePurger(p CachePurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = p
	}
}

// NewCleaner constructs a Cleaner. A nil sessions pruner skips session cleanup.
func NewCleaner(db *gorm.DB, sessions SessionPruner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:        db,
		sessions:  sessions,
		now:       time.Now,
		retention: defaultRetentionDays,
		schedule:  defaultSchedule,
		log:       logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the housekeeping job and launches the scheduler.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("maintenance run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every cleanup routine, collecting failures rather than stopping at the first.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	err := c.run(ctx)

	c.mu.Lock()
	c.state.TotalRuns++
	c.state.LastRunAt = c.now()
	if err != nil {
		c.state.LastError = err.Error()
		c.state.ConsecutiveFailures++
	} else {
		c.state.LastError = ""
		c.state.ConsecutiveFailures = 0
	}
	c.mu.Unlock()

	return err
}

// State returns a snapshot of the run history.
func (c *Cleaner) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Cleaner) run(ctx context.Context) error {
	var errs error

	if c.sessions != nil {
		if _, err := c.sessions.CleanupExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil {
		cutoff := c.now().AddDate(0, 0, -c.retention)
		stats, err := CleanupRequests(ctx, c.db, cutoff)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if stats.Total() > 0 {
			c.log.Info("finished requests removed",
				zap.Int64("invites", stats.Invites),
				zap.Int64("reactivations", stats.Reactivations),
				zap.Int64("email_changes", stats.EmailChanges),
			)
		}
	}

	if c.cache != nil {
		if _, err := c.cache.PurgeExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// RequestCleanupStats captures the number of records removed per request kind.
type RequestCleanupStats struct {
	Invites       int64
	Reactivations int64
	EmailChanges  int64
}

// Total sums the removed rows.
func (s RequestCleanupStats) Total() int64 {
	return s.Invites + s.Reactivations + s.EmailChanges
}

// CleanupRequests deletes requests that reached a terminal status before cutoff.
// Pending requests are never touched; their expiry is decided when the code is used.
func CleanupRequests(ctx context.Context, db *gorm.DB, cutoff time.Time) (RequestCleanupStats, error) {
	if db == nil {
		return RequestCleanupStats{}, errors.New("cleanup requests: db is required")
	}

	stats := RequestCleanupStats{}
	targets := []struct {
		name  string
		model any
		count *int64
	}{
		{"invites", &models.InviteRequest{}, &stats.Invites},
		{"reactivations", &models.ReactivationRequest{}, &stats.Reactivations},
		{"email changes", &models.EmailChangeRequest{}, &stats.EmailChanges},
	}

	for _, target := range targets {
		result := db.WithContext(ctx).
			Where("status <> ? AND updated_at < ?", models.StatusPending, cutoff).
			Delete(target.model)
		if result.Error != nil {
			return stats, fmt.Errorf("cleanup requests: %s: %w", target.name, result.Error)
		}
		*target.count = result.RowsAffected
	}
	return stats, nil
}
