package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/registry"
	appErrors "github.com/charlesng35/seatkeeper/pkg/errors"
	"github.com/charlesng35/seatkeeper/pkg/response"
	appValidator "github.com/charlesng35/seatkeeper/pkg/validator"
)

// tokenSelectionPayload is the agency token entry a person submits with a code.
type tokenSelectionPayload struct {
	Domain       string `json:"domain" validate:"omitempty,max=255"`
	Token        string `json:"token" validate:"required,max=128"`
	Organisation string `json:"organisation" validate:"omitempty,max=255"`
}

func (p *tokenSelectionPayload) selection() *registry.TokenSelection {
	if p == nil {
		return nil
	}
	return &registry.TokenSelection{Domain: p.Domain, Token: p.Token, Organisation: p.Organisation}
}

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	ve, ok := err.(appValidator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return "invalid request payload"
	}

	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		field := prettifyFieldName(failure.Field)
		switch failure.Tag {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "email":
			messages = append(messages, fmt.Sprintf("%s must be a valid email address", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s characters", field, failure.Param))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s characters", field, failure.Param))
		case "uuid4":
			messages = append(messages, fmt.Sprintf("%s must be a valid UUID", field))
		case "vcode":
			messages = append(messages, fmt.Sprintf("%s is not a valid code", field))
		default:
			if failure.Param != "" {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
			} else {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
			}
		}
	}
	return strings.Join(messages, "; ")
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}
