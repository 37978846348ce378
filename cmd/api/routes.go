package main

import (
	"context"
	"net/http"
	"time"

	"voip-dashboard/internal/config"
	"voip-dashboard/internal/httpapi"
	"voip-dashboard/internal/rbac"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	cfg      config.Config
	handlers httpapi.Handlers
	authMW   gin.HandlerFunc
	ws       gin.HandlerFunc
	ready    func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// Before any route so preflight requests are answered.
	r.Use(corsMiddleware(d.cfg.App.CORSAllowedOrigins))

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.ready != nil {
			if err := d.ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). Always acknowledged.
	r.POST("/webhooks/voice", h.VoiceWebhook)

	// Push channel; identity comes from the ?token= query parameter.
	r.GET("/ws", d.ws)

	if d.cfg.IsDevelopment() {
		r.POST("/auth/dev-token", h.DevToken)
	}

	// browser API
	api := r.Group("/")
	api.Use(d.authMW)
	api.Use(rbac.RequireUser())
	{
		voiceGroup := api.Group("/voice")
		{
			voiceGroup.POST("/call", h.StartLegacyCall)
			voiceGroup.POST("/calls/outbound", h.StartOutboundCall)
			voiceGroup.POST("/calls/:id/answer", h.AnswerCall)
			voiceGroup.POST("/calls/:id/hangup", h.HangupCall)
			voiceGroup.POST("/calls/:id/decline", h.DeclineCall)
			voiceGroup.POST("/calls/:id/dtmf", h.SendDTMF)
			voiceGroup.POST("/calls/:id/connect-webrtc", h.ConnectWebRTC)
			voiceGroup.GET("/logs", h.CallLogs)
			voiceGroup.GET("/logs/summary", h.CallSummary)
		}

		numbersGroup := api.Group("/numbers")
		{
			numbersGroup.GET("/mine", h.MyNumbers)
			numbersGroup.PATCH("/enable-voice", h.EnableVoice)
		}

		notes := api.Group("/notifications")
		{
			notes.GET("", h.ListNotifications)
			notes.PATCH("/mark-all-read", h.MarkAllNotificationsRead)
			notes.PATCH("/:id/read", h.MarkNotificationRead)
		}

		// ADMIN routes
		admin := api.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.POST("/broadcast", h.AdminBroadcast)
		}
	}
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
