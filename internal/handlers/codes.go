package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/services"
	"github.com/charlesng35/seatkeeper/pkg/response"
)

// CodeHandler resolves verification codes to the flow they belong to.
type CodeHandler struct {
	coordinator *services.Coordinator
}

func NewCodeHandler(coordinator *services.Coordinator) *CodeHandler {
	return &CodeHandler{coordinator: coordinator}
}

type resolveCodeRequest struct {
	Code string `json:"code" validate:"required,vcode"`
}

// POST /api/codes/resolve
func (h *CodeHandler) Resolve(c *gin.Context) {
	var req resolveCodeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	determination, err := h.coordinator.ResolveVerificationCode(requestContext(c), req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, determination)
}
