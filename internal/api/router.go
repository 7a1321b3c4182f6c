package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/app"
	"github.com/charlesng35/seatkeeper/internal/auth"
	"github.com/charlesng35/seatkeeper/internal/handlers"
	"github.com/charlesng35/seatkeeper/internal/middleware"
	"github.com/charlesng35/seatkeeper/internal/monitoring"
	"github.com/charlesng35/seatkeeper/internal/monitoring/checks"
	"github.com/charlesng35/seatkeeper/internal/services"
)

// AdminRole grants access to invite, seat and token administration.
const AdminRole = "admin"

// Dependencies carries the services the HTTP surface is built on.
type Dependencies struct {
	Config      *app.Config
	DB          *gorm.DB
	Coordinator *services.Coordinator
	Identities  *services.IdentityService
	Sessions    *auth.SessionService
	Seats       handlers.SeatCounter
	// Tokens is nil when a remote registry owns agency tokens.
	Tokens      handlers.TokenAdmin
	Invalidator handlers.TokenInvalidator
	RateStore   middleware.RateStore
	// Health defaults to a database readiness probe when nil.
	Health *monitoring.HealthManager
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.DB == nil:
		return errors.New("database handle must be provided")
	case d.Coordinator == nil:
		return errors.New("coordinator must be provided")
	case d.Identities == nil:
		return errors.New("identity service must be provided")
	case d.Sessions == nil:
		return errors.New("session service must be provided")
	case d.Seats == nil:
		return errors.New("seat counter must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	health := deps.Health
	if health == nil {
		sqlDB, err := deps.DB.DB()
		if err != nil {
			return nil, err
		}
		health = monitoring.NewHealthManager()
		health.RegisterReadiness(checks.Database(sqlDB, 0))
	}
	healthHandler := handlers.NewHealthHandler(health)
	r.GET("/health", healthHandler.Summary)
	r.GET("/health/live", healthHandler.Live)
	r.GET("/health/ready", healthHandler.Ready)

	if prom := deps.Config.Monitoring.Prometheus; prom.Enabled {
		endpoint := strings.TrimSpace(prom.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Unauthenticated lifecycle endpoints are rate limited per client IP and route.
	var limit gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if rl := deps.Config.Server.RateLimit; rl.Enabled {
		store := deps.RateStore
		if store == nil {
			store = middleware.NewMemoryRateStore()
		}
		limit = middleware.RateLimit(store, rl.Requests, rl.Window)
	}

	public := r.Group("/api", limit)
	authed := r.Group("/api", middleware.Auth(deps.Sessions))
	admin := authed.Group("", middleware.RequireRole(deps.Identities, AdminRole))

	registerAuthRoutes(public, authed, handlers.NewAuthHandler(deps.Identities, deps.Sessions))
	registerLifecycleRoutes(public, authed, admin, lifecycleHandlers{
		Codes:         handlers.NewCodeHandler(deps.Coordinator),
		Invites:       handlers.NewInviteHandler(deps.Coordinator),
		Reactivations: handlers.NewReactivationHandler(deps.Coordinator),
		EmailChanges:  handlers.NewEmailChangeHandler(deps.Coordinator, deps.Identities, AdminRole),
		Assignments:   handlers.NewAssignmentHandler(deps.Coordinator),
	})
	registerSeatRoutes(admin, handlers.NewSeatHandler(deps.Coordinator, deps.Seats, deps.Tokens, deps.Invalidator))

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
