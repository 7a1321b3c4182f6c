package handlers

import (
	stdErrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/auth"
	"github.com/charlesng35/seatkeeper/internal/middleware"
	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/errors"
	"github.com/charlesng35/seatkeeper/pkg/metrics"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

var errInvalidCredentials = errors.New("INVALID_CREDENTIALS", "Invalid email or password", http.StatusUnauthorized)

// AuthHandler manages password sign-in and session rotation.
type AuthHandler struct {
	identities *services.IdentityService
	sessions   *auth.SessionService
}

func NewAuthHandler(identities *services.IdentityService, sessions *auth.SessionService) *AuthHandler {
	return &AuthHandler{identities: identities, sessions: sessions}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	Token string `json:"token" validate:"required"`
}

type sessionResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type loginResponse struct {
	sessionResponse
	Identity *models.Identity `json:"identity"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	identity, err := h.identities.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		if stdErrors.Is(err, services.ErrInvalidCredentials) {
			response.Error(c, errInvalidCredentials)
			return
		}
		response.Error(c, err)
		return
	}

	session, err := h.sessions.CreateSession(ctx, identity.ID, auth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, err)
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, loginResponse{
		sessionResponse: sessionResponse{Token: session.RefreshToken, ExpiresAt: session.ExpiresAt},
		Identity:        identity,
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	session, err := h.sessions.RefreshSession(requestContext(c), req.Token)
	if err != nil {
		response.Error(c, errors.ErrUnauthorized.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, sessionResponse{Token: session.RefreshToken, ExpiresAt: session.ExpiresAt})
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.RevokeSession(requestContext(c), c.GetString(middleware.CtxSessionIDKey)); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"signed_out": true})
}

// GET /api/me
func (h *AuthHandler) Me(c *gin.Context) {
	identity, err := h.identities.Get(requestContext(c), callerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, identity)
}
