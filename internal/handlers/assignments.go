package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

// AssignmentHandler moves active identities onto an agency token.
type AssignmentHandler struct {
	coordinator *services.Coordinator
}

func NewAssignmentHandler(coordinator *services.Coordinator) *AssignmentHandler {
	return &AssignmentHandler{coordinator: coordinator}
}

type issueAssignmentRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

type completeAssignmentRequest struct {
	Code           string                `json:"code" validate:"required,vcode"`
	TokenSelection tokenSelectionPayload `json:"token_selection"`
}

// POST /api/agency-token-assignments
//
// The code only travels by email; the response never carries it.
func (h *AssignmentHandler) Issue(c *gin.Context) {
	var req issueAssignmentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if _, err := h.coordinator.IssueAssignmentCode(requestContext(c), req.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"sent": true})
}

// POST /api/agency-token-assignments/complete
func (h *AssignmentHandler) Complete(c *gin.Context) {
	var req completeAssignmentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	identity, err := h.coordinator.CompleteTokenAssignment(requestContext(c), req.Code, registry.TokenSelection{
		Domain:       req.TokenSelection.Domain,
		Token:        req.TokenSelection.Token,
		Organisation: req.TokenSelection.Organisation,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, identity)
}
