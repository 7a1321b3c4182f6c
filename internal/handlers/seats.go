package handlers

import (
	"context"
	stdErrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/errors"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

// SeatCounter reports free seats on a token.
type SeatCounter interface {
	Available(ctx context.Context, tokenUID string) (int, error)
}

// TokenAdmin manages locally registered agency tokens.
type TokenAdmin interface {
	CreateToken(ctx context.Context, input registry.CreateTokenInput) (*registry.AgencyToken, error)
	SetCapacity(ctx context.Context, uid string, capacity int) error
}

// TokenInvalidator drops cached registry entries.
type TokenInvalidator interface {
	Invalidate(ctx context.Context, uid string)
	InvalidateDomains(ctx context.Context, domains ...string)
}

// SeatHandler exposes administrative seat operations.
type SeatHandler struct {
	coordinator *services.Coordinator
	seats       SeatCounter
	tokens      TokenAdmin
	invalidator TokenInvalidator
}

// NewSeatHandler builds a SeatHandler. tokens is nil when a remote registry owns the tokens.
func NewSeatHandler(coordinator *services.Coordinator, seats SeatCounter, tokens TokenAdmin, invalidator TokenInvalidator) *SeatHandler {
	return &SeatHandler{coordinator: coordinator, seats: seats, tokens: tokens, invalidator: invalidator}
}

type admitRequest struct {
	IdentityID string `json:"identity_id" validate:"required,uuid4"`
}

type createTokenRequest struct {
	Token         string   `json:"token" validate:"required,min=8,max=128"`
	Capacity      int      `json:"capacity" validate:"min=0"`
	Domains       []string `json:"domains" validate:"required,min=1,dive,fqdn"`
	Organisations []string `json:"organisations" validate:"omitempty,dive,max=255"`
}

type capacityRequest struct {
	Capacity *int `json:"capacity" validate:"required,min=0"`
}

// POST /api/agency-tokens/:uid/admissions
func (h *SeatHandler) Admit(c *gin.Context) {
	var req admitRequest
	if !bindAndValidate(c, &req) {
		return
	}

	tokenUID := strings.TrimSpace(c.Param("uid"))
	if err := h.coordinator.AdmitToToken(requestContext(c), tokenUID, req.IdentityID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"token_uid": tokenUID, "identity_id": req.IdentityID})
}

// POST /api/identities/:id/release-token
func (h *SeatHandler) Release(c *gin.Context) {
	if err := h.coordinator.ReleaseIdentity(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"released": true})
}

// GET /api/agency-tokens/:uid/availability
func (h *SeatHandler) Availability(c *gin.Context) {
	tokenUID := strings.TrimSpace(c.Param("uid"))
	free, err := h.seats.Available(requestContext(c), tokenUID)
	if err != nil {
		response.Error(c, translateRegistryError(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"token_uid": tokenUID, "available": free})
}

// POST /api/agency-tokens
func (h *SeatHandler) CreateToken(c *gin.Context) {
	if h.tokens == nil {
		response.Error(c, errTokensManagedRemotely)
		return
	}

	var req createTokenRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	token, err := h.tokens.CreateToken(ctx, registry.CreateTokenInput{
		Token:         req.Token,
		Capacity:      req.Capacity,
		Domains:       req.Domains,
		Organisations: req.Organisations,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.invalidator != nil {
		h.invalidator.InvalidateDomains(ctx, token.Domains...)
	}
	response.Success(c, http.StatusCreated, token)
}

// PUT /api/agency-tokens/:uid/capacity
func (h *SeatHandler) SetCapacity(c *gin.Context) {
	if h.tokens == nil {
		response.Error(c, errTokensManagedRemotely)
		return
	}

	var req capacityRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	uid := strings.TrimSpace(c.Param("uid"))
	if err := h.tokens.SetCapacity(ctx, uid, *req.Capacity); err != nil {
		response.Error(c, translateRegistryError(err))
		return
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(ctx, uid)
	}
	response.Success(c, http.StatusOK, gin.H{"token_uid": uid, "capacity": *req.Capacity})
}

var errTokensManagedRemotely = errors.New("TOKENS_MANAGED_REMOTELY", "Agency tokens are managed by the remote registry", http.StatusConflict)

func translateRegistryError(err error) error {
	if stdErrors.Is(err, registry.ErrTokenNotFound) {
		return services.ErrResourceNotFound
	}
	return err
}
