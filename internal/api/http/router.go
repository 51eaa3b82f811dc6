package http

import (
	"github.com/gin-gonic/gin"

	"github.com/metroplan/metroplan-backend/internal/auth"
	"github.com/metroplan/metroplan-backend/internal/users"
)

// Register attaches the v1 API under the given group. The group is expected
// to already carry the auth middleware.
func (h *Handler) Register(rg *gin.RouterGroup) {
	projects := rg.Group("/projects")
	projects.GET("", h.list)
	projects.POST("", auth.RequireRole(users.RolePlanner), h.create)
	projects.GET("/stats", h.stats)
	projects.GET("/:id", h.get)
	projects.PUT("/:id", auth.RequireRole(users.RolePlanner), h.update)
	projects.DELETE("/:id", auth.RequireRole(users.RolePlanner), h.delete)
	projects.PUT("/:id/status", auth.RequireRole(users.RolePlanner), h.updateStatus)
	projects.POST("/:id/select", h.selectProject)
	projects.POST("/:id/advance", auth.RequireRole(users.RolePlanner), h.advance)
	projects.GET("/:id/workflow", h.workflowState)

	rg.GET("/session", h.session)
	rg.POST("/session/restore", h.restoreSession)
	rg.DELETE("/session", h.forgetSession)
	rg.POST("/auth/logout", h.logout)

	rg.GET("/activity", h.recentActivity)
	rg.GET("/notifications/unread", h.unreadNotifications)
	rg.GET("/metrics/upstream", auth.RequireRole(users.RoleAdmin), h.upstreamMetrics)
}
