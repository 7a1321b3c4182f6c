package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

// ReactivationHandler lets deactivated identities come back.
type ReactivationHandler struct {
	coordinator *services.Coordinator
}

func NewReactivationHandler(coordinator *services.Coordinator) *ReactivationHandler {
	return &ReactivationHandler{coordinator: coordinator}
}

type reactivationRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

type completeWithCodeRequest struct {
	Code           string                 `json:"code" validate:"required,vcode"`
	TokenSelection *tokenSelectionPayload `json:"token_selection" validate:"omitempty"`
}

// POST /api/reactivations
func (h *ReactivationHandler) Request(c *gin.Context) {
	var req reactivationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.coordinator.RequestReactivation(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// POST /api/reactivations/complete
func (h *ReactivationHandler) Complete(c *gin.Context) {
	var req completeWithCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.coordinator.CompleteReactivation(requestContext(c), req.Code, req.TokenSelection.selection()); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"reactivated": true})
}
