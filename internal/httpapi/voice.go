package httpapi

import (
	"context"
	"io"
	"net/http"
	"time"

	"voip-dashboard/internal/calls"
	"voip-dashboard/internal/reporting"
	"voip-dashboard/internal/voice"

	"github.com/gin-gonic/gin"
)

const actionFailed = "call action failed"

// maxWebhookBody bounds provider payloads.
const maxWebhookBody = 1 << 20

// webhookTimeout bounds processing once the provider has delivered.
const webhookTimeout = 10 * time.Second

// VoiceWebhook applies a provider call event. The provider is always
// acknowledged with 200; failures are logged by the reconciler.
func (h Handlers) VoiceWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err == nil && h.Reconciler != nil {
		// Keep processing if the provider hangs up on us.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), webhookTimeout)
		h.Reconciler.HandleWebhook(ctx, body)
		cancel()
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}

type callRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// StartOutboundCall places a call from a voice-enabled number the caller owns.
func (h Handlers) StartOutboundCall(c *gin.Context) {
	h.startCall(c, h.Voice.InitiateOutboundCall)
}

// StartLegacyCall places a call through the configured connection.
func (h Handlers) StartLegacyCall(c *gin.Context) {
	h.startCall(c, h.Voice.InitiateLegacyCall)
}

func (h Handlers) startCall(c *gin.Context, place func(context.Context, string, voice.OutboundCallInput) (calls.CallRecord, error)) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := place(c.Request.Context(), uid, voice.OutboundCallInput{From: req.From, To: req.To})
	if err != nil {
		writeError(c, err, actionFailed)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) AnswerCall(c *gin.Context) {
	h.callAction(c, h.Voice.Answer)
}

func (h Handlers) HangupCall(c *gin.Context) {
	h.callAction(c, h.Voice.Hangup)
}

func (h Handlers) DeclineCall(c *gin.Context) {
	h.callAction(c, h.Voice.Decline)
}

type dtmfRequest struct {
	Digits string `json:"digits"`
}

func (h Handlers) SendDTMF(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	var req dtmfRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.Voice.SendDTMF(c.Request.Context(), c.Param("id"), req.Digits); err != nil {
		writeError(c, err, actionFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type connectWebRTCRequest struct {
	ClientState string `json:"client_state"`
}

func (h Handlers) ConnectWebRTC(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}
	var req connectWebRTCRequest
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	if err := h.Voice.ConnectWebRTC(c.Request.Context(), c.Param("id"), req.ClientState); err != nil {
		writeError(c, err, actionFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h Handlers) callAction(c *gin.Context, do func(context.Context, string) error) {
	if _, ok := callerID(c); !ok {
		return
	}
	if err := do(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err, actionFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CallLogs lists the caller's calls, newest first.
func (h Handlers) CallLogs(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	logs, err := h.Voice.ListCallLogs(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err, "call log lookup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": logs})
}

// CallSummary aggregates the caller's recent calls. Optional from/to query
// parameters are RFC 3339 timestamps.
func (h Handlers) CallSummary(c *gin.Context) {
	uid, ok := callerID(c)
	if !ok {
		return
	}
	var rng reporting.TimeRange
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"from", &rng.From}, {"to", &rng.To}} {
		v := c.Query(p.key)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": p.key + " must be RFC 3339"})
			return
		}
		*p.dst = ts
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{OwnerID: uid, Range: rng})
	if err != nil {
		writeError(c, err, "call summary failed")
		return
	}
	c.JSON(http.StatusOK, out)
}
