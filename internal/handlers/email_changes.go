package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/middleware"
	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/errors"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

// EmailChangeHandler moves identities to a new address.
type EmailChangeHandler struct {
	coordinator *services.Coordinator
	identities  middleware.IdentityLookup
	adminRole   string
}

func NewEmailChangeHandler(coordinator *services.Coordinator, identities middleware.IdentityLookup, adminRole string) *EmailChangeHandler {
	return &EmailChangeHandler{coordinator: coordinator, identities: identities, adminRole: adminRole}
}

type emailChangeRequest struct {
	IdentityID string `json:"identity_id" validate:"omitempty,uuid4"`
	NewEmail   string `json:"new_email" validate:"required,email,max=320"`
}

// POST /api/email-changes
//
// Identities change their own address; administrators may name another identity.
func (h *EmailChangeHandler) Request(c *gin.Context) {
	var req emailChangeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	caller := callerID(c)
	target := req.IdentityID
	if target == "" {
		target = caller
	}
	if target != caller {
		identity, err := h.identities.Get(ctx, caller)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !identity.HasRole(h.adminRole) {
			response.Error(c, errors.ErrForbidden)
			return
		}
	}

	if _, err := h.coordinator.RequestEmailChange(ctx, target, req.NewEmail); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// POST /api/email-changes/complete
func (h *EmailChangeHandler) Complete(c *gin.Context) {
	var req completeWithCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.coordinator.CompleteEmailChange(requestContext(c), req.Code, req.TokenSelection.selection()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"changed": true})
}
