package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/crescent-api/internal/middleware"
	"github.com/noah-isme/crescent-api/internal/service"
)

// Handlers groups everything mounted under the API prefix.
type Handlers struct {
	Auth    *AuthHandler
	Links   *ScholarLinkHandler
	Metrics *MetricsHandler
}

// RegisterRoutes mounts health endpoints on r and the versioned API under prefix.
func RegisterRoutes(r *gin.Engine, prefix string, h Handlers, tokens middleware.TokenValidator) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/ready", h.Metrics.Ready)
	r.GET("/metrics", h.Metrics.Prometheus)

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.GET("/me", middleware.JWT(tokens), h.Auth.Me)

	links := api.Group("/links", middleware.JWT(tokens))
	links.POST("", middleware.RequireCapability(service.CapIssue), h.Links.Issue)
	links.POST("/verify", middleware.RequireCapability(service.CapVerify), h.Links.Verify)
	links.GET("/pending", middleware.RequireCapability(service.CapListPending), h.Links.ListPending)
	links.GET("/parents", middleware.RequireCapability(service.CapListParents), h.Links.ListParents)
	links.GET("/issued", middleware.RequireCapability(service.CapListIssued), h.Links.ListIssued)
	links.GET("/scholars", middleware.RequireCapability(service.CapListScholars), h.Links.ListScholars)
	links.GET("/stats", middleware.RequireCapability(service.CapStats), h.Links.Stats)
	links.GET("/export", middleware.RequireCapability(service.CapExport), h.Links.Export)
	links.GET("/:id/slip", middleware.RequireCapability(service.CapExport), h.Links.Slip)
	links.POST("/:id/reject", middleware.RequireCapability(service.CapReject), h.Links.Reject)
	links.POST("/:id/revoke", middleware.RequireCapability(service.CapRevoke), h.Links.Revoke)
	links.DELETE("/:id", middleware.RequireCapability(service.CapUnlink), h.Links.Unlink)
}
