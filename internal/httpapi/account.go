package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// --- Numbers ---

type enableVoiceRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// EnableVoice attaches the media connection to a number the caller owns.
func (h Handlers) EnableVoice(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req enableVoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.PhoneNumber == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phoneNumber required"})
		return
	}
	n, err := h.Numbers.EnableVoice(c.Request.Context(), uid, req.PhoneNumber)
	if err != nil {
		writeError(c, err, "enable voice failed")
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h Handlers) MyNumbers(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	list, err := h.Numbers.ListMine(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err, "number lookup failed")
		return
	}
	if list == nil {
		c.JSON(http.StatusOK, gin.H{"numbers": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": list})
}

// --- Notifications ---

func (h Handlers) ListNotifications(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	unread := c.Query("unread") == "true"
	list, err := h.Notifications.List(c.Request.Context(), uid, unread)
	if err != nil {
		writeError(c, err, "notification lookup failed")
		return
	}
	if list == nil {
		c.JSON(http.StatusOK, gin.H{"notifications": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h Handlers) MarkNotificationRead(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	n, err := h.Notifications.MarkRead(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		writeError(c, err, "notification update failed")
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h Handlers) MarkAllNotificationsRead(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	count, err := h.Notifications.MarkAllRead(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err, "notification update failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": count})
}
