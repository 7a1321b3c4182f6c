package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/api"
	"github.com/charlesng35/seatkeeper/internal/app"
	"github.com/charlesng35/seatkeeper/internal/app/maintenance"
	"github.com/charlesng35/seatkeeper/internal/auth"
	"github.com/charlesng35/seatkeeper/internal/cache"
	"github.com/charlesng35/seatkeeper/internal/database"
	"github.com/charlesng35/seatkeeper/internal/handlers"
	"github.com/charlesng35/seatkeeper/internal/middleware"
	"github.com/charlesng35/seatkeeper/internal/monitoring"
	"github.com/charlesng35/seatkeeper/internal/monitoring/checks"
	"github.com/charlesng35/seatkeeper/internal/notifications"
	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/seats"
	"github.com/charlesng35/seatkeeper/internal/security"
	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/logger"
	"github.com/charlesng35/seatkeeper/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Cache       cache.Store
	Registry    *registry.Cached
	Allocator   *seats.Allocator
	Identities  *services.IdentityService
	Sessions    *auth.SessionService
	Coordinator *services.Coordinator
	Notifier    notifications.Sender
	Cleaner     *maintenance.Cleaner
	Router      *gin.Engine
}

// bootstrapRuntime initialises the database, caches, services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	generated, err := app.ApplyRuntimeDefaults(ctx, cfg, stack.DB)
	if err != nil {
		return nil, err
	}
	for key, created := range generated {
		log.Info("runtime secret resolved", zap.String("key", key), zap.Bool("generated", created))
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache = dbStore
	if cfg.UsesRedis() {
		stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		if cfg.Cache.Redis.Enabled {
			stack.Cache = cache.NewRedisStore(stack.Redis)
		}
	}

	var (
		upstream registry.Registry
		tokens   handlers.TokenAdmin
	)
	if url := strings.TrimSpace(cfg.Registry.URL); url != "" {
		client, err := registry.NewClient(url, cfg.Registry.Timeout)
		if err != nil {
			return nil, fmt.Errorf("initialise registry client: %w", err)
		}
		upstream = client
		log.Info("using remote agency token registry", zap.String("url", url))
	} else {
		store, err := registry.NewStore(stack.DB)
		if err != nil {
			return nil, fmt.Errorf("initialise registry store: %w", err)
		}
		upstream = store
		tokens = store
	}
	stack.Registry = registry.NewCached(upstream, stack.Cache, cfg.Registry.CacheTTL)

	ledger, err := seats.NewLedger(upstream, stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise seat ledger: %w", err)
	}
	locker, err := newLocker(cfg, stack.Redis)
	if err != nil {
		return nil, err
	}
	stack.Allocator, err = seats.NewAllocator(stack.DB, ledger, seats.WithLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("initialise allocator: %w", err)
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = auth.NewSessionCache(stack.Cache)
	stack.Sessions, err = auth.NewSessionService(stack.DB, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Notifier, err = newNotifier(cfg)
	if err != nil {
		return nil, err
	}

	stack.Identities, err = services.NewIdentityService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise identity service: %w", err)
	}
	stack.Coordinator, err = newCoordinator(cfg, stack)
	if err != nil {
		return nil, err
	}

	opts := []maintenance.Option{
		maintenance.WithSchedule(cfg.Maintenance.Schedule),
		maintenance.WithRetentionDays(cfg.Maintenance.RetentionDays),
	}
	if store, ok := stack.Cache.(*cache.DatabaseStore); ok {
		opts = append(opts, maintenance.WithCachePurger(store))
	}
	stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.Sessions, opts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	sqlDB, err := stack.DB.DB()
	if err != nil {
		return nil, fmt.Errorf("obtain sql handle: %w", err)
	}
	health := monitoring.NewHealthManager()
	health.RegisterReadiness(checks.Database(sqlDB, 0))
	if stack.Redis != nil {
		health.RegisterReadiness(checks.Redis(stack.Redis, 0))
	}
	health.RegisterReadiness(checks.Maintenance(stack.Cleaner, 0, nil))

	stack.Router, err = api.NewRouter(api.Dependencies{
		Config:      cfg,
		DB:          stack.DB,
		Coordinator: stack.Coordinator,
		Identities:  stack.Identities,
		Sessions:    stack.Sessions,
		Seats:       stack.Allocator,
		Tokens:      tokens,
		Invalidator: stack.Registry,
		RateStore:   middleware.NewCacheRateStore(stack.Cache),
		Health:      health,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	logAudit(ctx, security.NewAuditService(cfg, stack.Identities, api.AdminRole), log)

	success = true
	return stack, nil
}

func logAudit(ctx context.Context, audit *security.AuditService, log *zap.Logger) {
	for _, check := range audit.Run(ctx).Checks {
		if check.Status == security.StatusPass {
			continue
		}
		log.Warn("security audit",
			zap.String("check", check.ID),
			zap.String("status", string(check.Status)),
			zap.String("message", check.Message),
			zap.String("remediation", check.Remediation),
		)
	}
}

func newLocker(cfg *app.Config, client *redis.Client) (seats.Locker, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Seats.Locker)) {
	case "redis":
		if client == nil {
			return nil, errors.New("seats.locker redis requires a redis connection")
		}
		locker, err := seats.NewRedisLocker(client, seats.WithLockTTL(cfg.Seats.LockTTL))
		if err != nil {
			return nil, fmt.Errorf("initialise redis locker: %w", err)
		}
		return locker, nil
	default:
		return seats.NewLocalLocker(), nil
	}
}

func newNotifier(cfg *app.Config) (notifications.Sender, error) {
	switch cfg.Notifications.DriverName() {
	case "smtp":
		if !cfg.Email.SMTP.Enabled {
			return nil, errors.New("notifications driver smtp requires email.smtp.enabled")
		}
		mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		sender, err := notifications.NewMailSender(mailer)
		if err != nil {
			return nil, fmt.Errorf("initialise mail sender: %w", err)
		}
		return sender, nil
	case "kafka":
		sender, err := notifications.NewKafkaSender(cfg.Notifications.KafkaSenderConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise kafka sender: %w", err)
		}
		return sender, nil
	default:
		return notifications.NewLogSender(), nil
	}
}

func newCoordinator(cfg *app.Config, stack *runtimeStack) (*services.Coordinator, error) {
	invites, err := services.NewInviteService(stack.DB, services.WithInviteValidity(cfg.Lifecycle.InviteValidity()))
	if err != nil {
		return nil, fmt.Errorf("initialise invite service: %w", err)
	}
	reactivations, err := services.NewReactivationService(stack.DB, services.WithReactivationValidity(cfg.Lifecycle.ReactivationValidity()))
	if err != nil {
		return nil, fmt.Errorf("initialise reactivation service: %w", err)
	}
	emailChanges, err := services.NewEmailChangeService(stack.DB, services.WithEmailChangeValidity(cfg.Lifecycle.EmailChangeValidity()))
	if err != nil {
		return nil, fmt.Errorf("initialise email change service: %w", err)
	}

	key, err := app.DecodeKey(cfg.Codes.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decode codes encryption key: %w", err)
	}
	codec, err := services.NewAssignmentCodec(key)
	if err != nil {
		return nil, fmt.Errorf("initialise assignment codec: %w", err)
	}
	resolver, err := services.NewResolver(reactivations, emailChanges, stack.Identities, codec)
	if err != nil {
		return nil, fmt.Errorf("initialise resolver: %w", err)
	}

	coordinator, err := services.NewCoordinator(services.CoordinatorDeps{
		DB:            stack.DB,
		Registry:      stack.Registry,
		Allocator:     stack.Allocator,
		Identities:    stack.Identities,
		Invites:       invites,
		Reactivations: reactivations,
		EmailChanges:  emailChanges,
		Resolver:      resolver,
		Codec:         codec,
		Notifier:      stack.Notifier,
		Sessions:      stack.Sessions,
		BaseURL:       cfg.Codes.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise coordinator: %w", err)
	}
	return coordinator, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if kafka, ok := s.Notifier.(*notifications.KafkaSender); ok && kafka != nil {
		kafka.Close()
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
