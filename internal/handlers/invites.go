package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/registry"
	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

// InviteHandler covers invite creation, token authorisation and signup.
type InviteHandler struct {
	coordinator *services.Coordinator
}

func NewInviteHandler(coordinator *services.Coordinator) *InviteHandler {
	return &InviteHandler{coordinator: coordinator}
}

type createInviteRequest struct {
	Email     string   `json:"email" validate:"required,email,max=320"`
	Roles     []string `json:"roles" validate:"omitempty,dive,min=1,max=64"`
	InvitedBy string   `json:"invited_by" validate:"omitempty,max=64"`
}

type authoriseInviteRequest struct {
	Code           string                `json:"code" validate:"required,vcode"`
	TokenSelection tokenSelectionPayload `json:"token_selection"`
}

type signupRequest struct {
	Code           string                 `json:"code" validate:"required,vcode"`
	Password       string                 `json:"password" validate:"required,min=8,max=128"`
	TokenSelection *tokenSelectionPayload `json:"token_selection" validate:"omitempty"`
}

type inviteDTO struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Roles      []string   `json:"roles"`
	InvitedBy  string     `json:"invited_by,omitempty"`
	Status     string     `json:"status"`
	Authorised bool       `json:"authorised"`
	CreatedAt  time.Time  `json:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}

// POST /api/invites
func (h *InviteHandler) Create(c *gin.Context) {
	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invitedBy := req.InvitedBy
	if invitedBy == "" {
		invitedBy = callerID(c)
	}

	invite, err := h.coordinator.CreateInvite(requestContext(c), req.Email, req.Roles, invitedBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, inviteDTO{
		ID:         invite.ID,
		Email:      invite.ForEmail,
		Roles:      invite.Roles,
		InvitedBy:  invite.InvitedBy,
		Status:     string(invite.Status),
		Authorised: invite.Authorised,
		CreatedAt:  invite.CreatedAt,
		AcceptedAt: invite.AcceptedAt,
	})
}

// POST /api/invites/authorise
func (h *InviteHandler) Authorise(c *gin.Context) {
	var req authoriseInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	invite, err := h.coordinator.AuthoriseInvite(requestContext(c), req.Code, registry.TokenSelection{
		Domain:       req.TokenSelection.Domain,
		Token:        req.TokenSelection.Token,
		Organisation: req.TokenSelection.Organisation,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"email": invite.ForEmail, "authorised": invite.Authorised})
}

// POST /api/signup
func (h *InviteHandler) Signup(c *gin.Context) {
	var req signupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	identity, err := h.coordinator.CompleteSignup(requestContext(c), services.SignupInput{
		Code:      req.Code,
		Password:  req.Password,
		Selection: req.TokenSelection.selection(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, identity)
}
