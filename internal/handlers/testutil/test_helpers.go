package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/seatkeeper/internal/api"
	"github.com/charlesng35/seatkeeper/internal/app"
	"github.com/charlesng35/seatkeeper/internal/auth"
	"github.com/charlesng35/seatkeeper/internal/cache"
	sharedtestutil "github.com/charlesng35/seatkeeper/internal/database/testutil"
	"github.com/charlesng35/seatkeeper/internal/middleware"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/internal/notifications"
	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/seats"
	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	Registry   *registry.Store
	Cached     *registry.Cached
	Identities *services.IdentityService
	Sessions   *auth.SessionService
	Notifier   *notifications.Recorder
}

// EnvOption customises the configuration used by NewEnv.
type EnvOption func(*app.Config)

// WithRateLimit enables the public rate limiter with the given budget per minute.
func WithRateLimit(requests int) EnvOption {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit = app.RateLimitConfig{Enabled: true, Requests: requests, Window: time.Minute}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Codes:      app.CodesConfig{EncryptionKey: "0123456789abcdef0123456789abcdef", BaseURL: "https://learn.example.org"},
		Monitoring: app.MonitoringConfig{Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"}},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	reg, err := registry.NewStore(db)
	require.NoError(t, err)
	cached := registry.NewCached(reg, cache.NewDatabaseStore(db), time.Minute)
	ledger, err := seats.NewLedger(reg, db)
	require.NoError(t, err)
	allocator, err := seats.NewAllocator(db, ledger)
	require.NoError(t, err)

	identities, err := services.NewIdentityService(db)
	require.NoError(t, err)
	invites, err := services.NewInviteService(db)
	require.NoError(t, err)
	reactivations, err := services.NewReactivationService(db)
	require.NoError(t, err)
	emailChanges, err := services.NewEmailChangeService(db)
	require.NoError(t, err)

	codec, err := services.NewAssignmentCodec([]byte(cfg.Codes.EncryptionKey))
	require.NoError(t, err)
	resolver, err := services.NewResolver(reactivations, emailChanges, identities, codec)
	require.NoError(t, err)

	sessions, err := auth.NewSessionService(db, auth.SessionConfig{
		TTL:   time.Hour,
		Cache: auth.NewSessionCache(cache.NewDatabaseStore(db)),
	})
	require.NoError(t, err)

	notifier := &notifications.Recorder{}
	coordinator, err := services.NewCoordinator(services.CoordinatorDeps{
		DB:            db,
		Registry:      cached,
		Allocator:     allocator,
		Identities:    identities,
		Invites:       invites,
		Reactivations: reactivations,
		EmailChanges:  emailChanges,
		Resolver:      resolver,
		Codec:         codec,
		Notifier:      notifier,
		Sessions:      sessions,
		BaseURL:       cfg.Codes.BaseURL,
	}, services.WithAsyncRunner(func(f func()) { f() }))
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		Config:      cfg,
		DB:          db,
		Coordinator: coordinator,
		Identities:  identities,
		Sessions:    sessions,
		Seats:       allocator,
		Tokens:      reg,
		Invalidator: cached,
		RateStore:   middleware.NewMemoryRateStore(),
	})
	require.NoError(t, err)

	return &Env{
		T:          t,
		DB:         db,
		Router:     router,
		Registry:   reg,
		Cached:     cached,
		Identities: identities,
		Sessions:   sessions,
		Notifier:   notifier,
	}
}

// CreateToken registers a local agency token.
func (e *Env) CreateToken(secret string, capacity int, domains ...string) *registry.AgencyToken {
	e.T.Helper()
	token, err := e.Registry.CreateToken(context.Background(), registry.CreateTokenInput{
		Token:    secret,
		Capacity: capacity,
		Domains:  domains,
	})
	require.NoError(e.T, err)
	e.Cached.InvalidateDomains(context.Background(), token.Domains...)
	return token
}

// CreateIdentity inserts an identity with a bcrypt-hashed password.
func (e *Env) CreateIdentity(email, password string, active bool, roles ...string) *models.Identity {
	e.T.Helper()

	hash, err := e.Identities.Hasher().Hash(password)
	require.NoError(e.T, err)
	identity, err := e.Identities.Create(context.Background(), services.CreateIdentityInput{
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
	})
	require.NoError(e.T, err)
	if !active {
		require.NoError(e.T, e.Identities.Deactivate(context.Background(), identity))
	}
	return identity
}

// Reload fetches the identity's current row.
func (e *Env) Reload(id string) *models.Identity {
	e.T.Helper()
	identity, err := e.Identities.Get(context.Background(), id)
	require.NoError(e.T, err)
	return identity
}

// LoginResult mirrors the payload returned by POST /api/auth/login.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"identity"`
}

// Login signs in and returns the session token.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, DecodeResponse(e.T, w).Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// LastCode extracts the code from the link of the most recent notification of tmpl sent to email.
func (e *Env) LastCode(email string, tmpl notifications.Template) string {
	e.T.Helper()

	sent := e.Notifier.To(email, tmpl)
	require.NotEmpty(e.T, sent, "no %s notification for %s", tmpl, email)
	link, err := url.Parse(sent[len(sent)-1].Vars["link"])
	require.NoError(e.T, err)
	code := link.Query().Get("code")
	require.NotEmpty(e.T, code)
	return code
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, dest))
}

// RequireError asserts the recorder holds an error envelope with status and code.
func RequireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := DecodeResponse(t, w)
	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	require.Equal(t, code, resp.Error.Code)
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
