package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/models"
	"github.com/charlesng35/seatkeeper/pkg/errors"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

const (
	CtxIdentityIDKey = "identityID"
	CtxSessionIDKey  = "sessionID"
	CtxIdentityKey   = "identity"
)

// SessionValidator resolves a bearer token to a live session.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.Session, error)
}

// IdentityLookup loads the identity behind a session.
type IdentityLookup interface {
	Get(ctx context.Context, id string) (*models.Identity, error)
}

// Auth requires a bearer session token and propagates the caller's identity.
func Auth(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorised(c)
			return
		}

		session, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			// Every validation failure reads as 401.
			unauthorised(c)
			return
		}

		c.Set(CtxIdentityIDKey, session.IdentityID)
		c.Set(CtxSessionIDKey, session.ID)
		c.Next()
	}
}

// RequireRole admits only active identities holding role. It must run after Auth.
func RequireRole(identities IdentityLookup, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := identities.Get(c.Request.Context(), c.GetString(CtxIdentityIDKey))
		if err != nil || !identity.Active {
			unauthorised(c)
			return
		}
		if !identity.HasRole(role) {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Set(CtxIdentityKey, identity)
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	if len(header) < 8 || !strings.EqualFold(header[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func unauthorised(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}
