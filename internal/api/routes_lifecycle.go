package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/seatkeeper/internal/handlers"
)

type lifecycleHandlers struct {
	Codes         *handlers.CodeHandler
	Invites       *handlers.InviteHandler
	Reactivations *handlers.ReactivationHandler
	EmailChanges  *handlers.EmailChangeHandler
	Assignments   *handlers.AssignmentHandler
}

func registerLifecycleRoutes(public, authed, admin *gin.RouterGroup, h lifecycleHandlers) {
	public.POST("/codes/resolve", h.Codes.Resolve)

	admin.POST("/invites", h.Invites.Create)
	public.POST("/invites/authorise", h.Invites.Authorise)
	public.POST("/signup", h.Invites.Signup)

	public.POST("/reactivations", h.Reactivations.Request)
	public.POST("/reactivations/complete", h.Reactivations.Complete)

	authed.POST("/email-changes", h.EmailChanges.Request)
	public.POST("/email-changes/complete", h.EmailChanges.Complete)

	public.POST("/agency-token-assignments", h.Assignments.Issue)
	public.POST("/agency-token-assignments/complete", h.Assignments.Complete)
}
