package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/handlers"
)

func registerSeatRoutes(admin *gin.RouterGroup, h *handlers.SeatHandler) {
	tokens := admin.Group("/agency-tokens")
	{
		tokens.POST("", h.CreateToken)
		tokens.PUT("/:uid/capacity", h.SetCapacity)
		tokens.GET("/:uid/availability", h.Availability)
		tokens.POST("/:uid/admissions", h.Admit)
	}

	admin.POST("/identities/:id/release-token", h.Release)
}
