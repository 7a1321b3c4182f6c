package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/handlers"
)

func registerAuthRoutes(public, authed *gin.RouterGroup, handler *handlers.AuthHandler) {
	public.POST("/auth/login", handler.Login)
	public.POST("/auth/refresh", handler.Refresh)

	authed.POST("/auth/logout", handler.Logout)
	authed.GET("/me", handler.Me)
}
