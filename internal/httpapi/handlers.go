package httpapi

import (
	"errors"
	"net/http"
	"time"

	"voip-dashboard/internal/auth"
	"voip-dashboard/internal/notifications"
	"voip-dashboard/internal/numbers"
	"voip-dashboard/internal/rbac"
	"voip-dashboard/internal/realtime"
	"voip-dashboard/internal/reporting"
	"voip-dashboard/internal/telephony"
	"voip-dashboard/internal/voice"
	"voip-dashboard/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth          *auth.Manager
	Voice         *voice.Service
	Reconciler    *voice.Reconciler
	Numbers       *numbers.Service
	Notifications *notifications.Service
	Reports       *reporting.Service
	Push          realtime.Notifier
}

// --- Auth ---

type devTokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// DevToken issues an access token without credentials.
//
// NOTE: Only routed outside production. Real deployments get tokens from the
// identity provider that shares JWT_SECRET.
func (h Handlers) DevToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if req.Role == "" {
		req.Role = rbac.RoleUser
	}
	token, err := h.Auth.IssueAccess(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// --- Admin ---

type broadcastRequest struct {
	Type        string `json:"type"`
	Data        any    `json:"data"`
	ExcludeSelf bool   `json:"exclude_self"`
}

// AdminBroadcast pushes a message to every connected user.
// RBAC: admin.
func (h Handlers) AdminBroadcast(c *gin.Context) {
	if h.Push == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "push not configured"})
		return
	}
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Type == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "type required"})
		return
	}
	msg := realtime.Message{Type: req.Type, Data: req.Data}
	if req.ExcludeSelf {
		uid, _ := auth.UserID(c.Request.Context())
		h.Push.BroadcastExceptUser(uid, msg)
	} else {
		h.Push.Broadcast(msg)
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// callerID reads the authenticated user or aborts with 401.
func callerID(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

// writeError maps domain errors onto HTTP statuses. Anything not known to be
// safe for the caller is logged and answered with fallback.
func writeError(c *gin.Context, err error, fallback string) {
	status := http.StatusInternalServerError
	public := false

	switch {
	case errors.Is(err, voice.ErrValidation),
		errors.Is(err, numbers.ErrInvalidArgument),
		errors.Is(err, notifications.ErrInvalidNotification),
		errors.Is(err, reporting.ErrInvalidRequest):
		status, public = http.StatusBadRequest, true
	case errors.Is(err, voice.ErrNotFound),
		errors.Is(err, numbers.ErrNotFound),
		errors.Is(err, notifications.ErrNotFound):
		status, public = http.StatusNotFound, true
	case errors.Is(err, voice.ErrStateConflict),
		errors.Is(err, numbers.ErrNotConfigured):
		status, public = http.StatusConflict, true
	case errors.Is(err, voice.ErrUpstream):
		status = http.StatusBadGateway
	default:
		var pe *telephony.ProviderError
		if errors.As(err, &pe) {
			status = http.StatusBadGateway
		}
	}

	if public {
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	logger.FromGin(c).Error("request failed", zap.Int("status", status), zap.Error(err))
	c.AbortWithStatusJSON(status, gin.H{"error": fallback})
}
