package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"voip-dashboard/internal/auth"
	"voip-dashboard/internal/calls"
	"voip-dashboard/internal/config"
	"voip-dashboard/internal/notifications"
	"voip-dashboard/internal/numbers"
	"voip-dashboard/internal/realtime"
	"voip-dashboard/internal/reporting"
	"voip-dashboard/internal/telephony"
	"voip-dashboard/internal/voice"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGateway struct {
	err error
}

func (g *stubGateway) CreateCall(ctx context.Context, req telephony.CreateCallRequest) (telephony.CallHandle, error) {
	if g.err != nil {
		return telephony.CallHandle{}, g.err
	}
	return telephony.CallHandle{CallControlID: "cc-1", CallLegID: "leg-1"}, nil
}
func (g *stubGateway) Answer(ctx context.Context, id string) error { return g.err }
func (g *stubGateway) Hangup(ctx context.Context, id string) error { return g.err }
func (g *stubGateway) Reject(ctx context.Context, id string) error { return g.err }
func (g *stubGateway) SendDTMF(ctx context.Context, id, digits string) error { return g.err }
func (g *stubGateway) ConnectWebRTC(ctx context.Context, id, st string) error { return g.err }
func (g *stubGateway) AssignConnection(ctx context.Context, id, c string) error { return g.err }
func (g *stubGateway) LookupNumber(ctx context.Context, p string) (telephony.NumberInfo, error) {
	if g.err != nil {
		return telephony.NumberInfo{}, g.err
	}
	return telephony.NumberInfo{ID: "pn-1", PhoneNumber: p}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) SendToUser(userID string, msg realtime.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, userID+":"+msg.Type)
}
func (n *recordingNotifier) Broadcast(msg realtime.Message) { n.SendToUser("*", msg) }
func (n *recordingNotifier) BroadcastExceptUser(userID string, msg realtime.Message) {
	n.SendToUser("!"+userID, msg)
}

type testEnv struct {
	router  *gin.Engine
	gw      *stubGateway
	store   *calls.MemoryStore
	numbers *numbers.MemoryRepo
	notes   *notifications.MemoryRepo
	push    *recordingNotifier
	auth    *auth.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		gw:      &stubGateway{},
		store:   calls.NewMemoryStore(),
		numbers: numbers.NewMemoryRepo(),
		notes:   notifications.NewMemoryRepo(),
		push:    &recordingNotifier{},
	}
	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret-test-secret-test-secret", JWTIssuer: "test"})
	require.NoError(t, err)
	env.auth = m

	noteSvc := notifications.NewService(env.notes)
	h := Handlers{
		Auth: m,
		Voice: voice.NewService(voice.ServiceConfig{
			Gateway: env.gw,
			Store:   env.store,
			Numbers: env.numbers,
			Notes:   noteSvc,
		}),
		Reconciler:    voice.NewReconciler(env.store, numbers.NewResolver(env.numbers), env.push, nil),
		Numbers:       numbers.NewService(env.numbers, env.gw, noteSvc, "conn-9", nil),
		Notifications: noteSvc,
		Reports:       reporting.NewService(env.store),
		Push:          env.push,
	}

	r := gin.New()
	r.POST("/auth/dev-token", h.DevToken)
	r.POST("/webhooks/voice", h.VoiceWebhook)
	api := r.Group("/")
	api.Use(auth.RequireAccessToken(m))
	api.POST("/voice/calls/outbound", h.StartOutboundCall)
	api.POST("/voice/call", h.StartLegacyCall)
	api.POST("/voice/calls/:id/answer", h.AnswerCall)
	api.POST("/voice/calls/:id/hangup", h.HangupCall)
	api.POST("/voice/calls/:id/decline", h.DeclineCall)
	api.POST("/voice/calls/:id/dtmf", h.SendDTMF)
	api.POST("/voice/calls/:id/connect-webrtc", h.ConnectWebRTC)
	api.GET("/voice/logs", h.CallLogs)
	api.GET("/voice/logs/summary", h.CallSummary)
	api.PATCH("/numbers/enable-voice", h.EnableVoice)
	api.GET("/numbers/mine", h.MyNumbers)
	api.GET("/notifications", h.ListNotifications)
	api.PATCH("/notifications/mark-all-read", h.MarkAllNotificationsRead)
	api.PATCH("/notifications/:id/read", h.MarkNotificationRead)
	api.POST("/admin/broadcast", h.AdminBroadcast)
	env.router = r
	return env
}

func (e *testEnv) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		tok, err := e.auth.IssueAccess(timeNow(), userID, "user")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) own(t *testing.T, owner, phone, conn string) {
	t.Helper()
	_, err := e.numbers.Create(context.Background(), numbers.PhoneNumber{OwnerID: owner, PhoneNumber: phone, ConnectionID: conn})
	require.NoError(t, err)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestVoiceWebhook_AlwaysAcknowledges(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{``, `{not json`, `{"data":{}}`, `{"data":{"event_type":"call.hangup","payload":{"call_control_id":"ghost"}}}`} {
		w := env.do(t, http.MethodPost, "/webhooks/voice", "", body)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
	}
	assert.Equal(t, 0, env.store.Len())
}

func TestVoiceWebhook_InboundCallPushesToOwner(t *testing.T) {
	env := newTestEnv(t)
	env.own(t, "u1", "+15551230000", "conn-1")

	w := env.do(t, http.MethodPost, "/webhooks/voice", "", `{"data":{"id":"ev-1","event_type":"call.initiated","payload":{
		"call_control_id":"cc-in","call_session_id":"s1","direction":"incoming","from":"+15557654321","to":"+15551230000"}}}`)
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := env.store.FindByExternalID(context.Background(), calls.ByCallControlID("cc-in"))
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.OwnerID)
	assert.Equal(t, []string{"u1:" + voice.PushInboundCall}, env.push.sent)
}

func TestStartOutboundCall(t *testing.T) {
	env := newTestEnv(t)
	env.own(t, "u1", "+15550001111", "conn-1")

	w := env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", map[string]string{"from": "+15550001111", "to": "+15552223333"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "cc-1", body["call_control_id"])
	assert.Equal(t, "initiated", body["status"])
	assert.Equal(t, "u1", body["owner_id"])
}

func TestStartOutboundCall_ErrorMapping(t *testing.T) {
	env := newTestEnv(t)
	env.own(t, "u1", "+15550001111", "")
	env.own(t, "u1", "+15550002222", "conn-1")

	w := env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", map[string]string{"from": "+15550001111", "to": "+1"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/voice/calls/outbound", "u2", map[string]string{"from": "+15550002222", "to": "+1"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", map[string]string{"from": "+15550002222"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", `{bad`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.gw.err = &telephony.ProviderError{Op: "create call", Status: 422, Detail: "D11 invalid connection"}
	w = env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", map[string]string{"from": "+15550002222", "to": "+1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, actionFailed, decode(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "D11")

	w = env.do(t, http.MethodPost, "/voice/calls/outbound", "", map[string]string{"from": "+15550002222", "to": "+1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartLegacyCall_WithoutConfiguredConnection(t *testing.T) {
	env := newTestEnv(t)
	env.own(t, "u1", "+15550001111", "")

	w := env.do(t, http.MethodPost, "/voice/call", "u1", map[string]string{"from": "+15550001111", "to": "+1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCallActions(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Create(context.Background(), calls.CallRecord{
		ExternalID: calls.ExternalID{CallControlID: "cc-1"},
		Direction:  calls.DirectionInbound,
		Status:     calls.StatusRinging,
		OwnerID:    "u1",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/voice/calls/cc-1/answer", "u1", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/voice/calls/cc-1/connect-webrtc", "u1", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/voice/calls/cc-1/dtmf", "u1", map[string]string{"digits": "1#"}).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/voice/calls/cc-1/dtmf", "u1", map[string]string{}).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/voice/calls/cc-1/decline", "u1", nil).Code)

	rec, err := env.store.FindByExternalID(context.Background(), calls.ByCallControlID("cc-1"))
	require.NoError(t, err)
	assert.Equal(t, calls.StatusDeclined, rec.Status)

	env.gw.err = telephony.ErrProviderNotFound
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/voice/calls/cc-1/hangup", "u1", nil).Code)
}

func TestCallLogs(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/voice/logs", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"calls":[]}`, w.Body.String())

	env.own(t, "u1", "+15550001111", "conn-1")
	env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", map[string]string{"from": "+15550001111", "to": "+1"})

	w = env.do(t, http.MethodGet, "/voice/logs", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["calls"], 1)
}

func TestCallLogs_OmitProviderPayload(t *testing.T) {
	env := newTestEnv(t)
	env.own(t, "u1", "+15550001111", "conn-1")
	w := env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", map[string]string{"from": "+15550001111", "to": "+1"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "provider_payload")

	w = env.do(t, http.MethodPost, "/webhooks/voice", "", `{"data":{"id":"ev-1","event_type":"call.answered","payload":{"call_control_id":"cc-1"}}}`)
	require.Equal(t, http.StatusOK, w.Code)
	rec, err := env.store.FindByExternalID(context.Background(), calls.ByCallControlID("cc-1"))
	require.NoError(t, err)
	require.NotEmpty(t, rec.LastProviderPayload)

	w = env.do(t, http.MethodGet, "/voice/logs", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "provider_payload")
}

func TestCallSummary(t *testing.T) {
	env := newTestEnv(t)
	env.own(t, "u1", "+15550001111", "conn-1")
	env.do(t, http.MethodPost, "/voice/calls/outbound", "u1", map[string]string{"from": "+15550001111", "to": "+1"})

	w := env.do(t, http.MethodGet, "/voice/logs/summary", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["total_calls"])
	assert.EqualValues(t, 1, body["outbound_calls"])
	assert.EqualValues(t, 1, body["in_progress_calls"])

	w = env.do(t, http.MethodGet, "/voice/logs/summary?from=yesterday", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/voice/logs/summary?from=2024-01-02T00:00:00Z&to=2024-01-01T00:00:00Z", "u1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnableVoiceAndNotifications(t *testing.T) {
	env := newTestEnv(t)
	env.own(t, "u1", "+15550001111", "")

	w := env.do(t, http.MethodPatch, "/numbers/enable-voice", "u1", map[string]string{"phoneNumber": "+15550001111"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "conn-9", decode(t, w)["connection_id"])

	w = env.do(t, http.MethodPatch, "/numbers/enable-voice", "u2", map[string]string{"phoneNumber": "+15550001111"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/numbers/mine", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["numbers"], 1)

	w = env.do(t, http.MethodGet, "/notifications?unread=true", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["notifications"].([]any)
	require.Len(t, list, 1)
	id := list[0].(map[string]any)["id"].(string)

	w = env.do(t, http.MethodPatch, "/notifications/"+id+"/read", "u2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = env.do(t, http.MethodPatch, "/notifications/"+id+"/read", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["read"])

	w = env.do(t, http.MethodPatch, "/notifications/mark-all-read", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["updated"])

	w = env.do(t, http.MethodGet, "/notifications?unread=true", "u1", nil)
	assert.JSONEq(t, `{"notifications":[]}`, w.Body.String())
}

func TestAdminBroadcast(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/admin/broadcast", "a1", map[string]any{"type": "MAINTENANCE", "data": map[string]string{"at": "22:00"}})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = env.do(t, http.MethodPost, "/admin/broadcast", "a1", map[string]any{"type": "MAINTENANCE", "exclude_self": true})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = env.do(t, http.MethodPost, "/admin/broadcast", "a1", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []string{"*:MAINTENANCE", "!a1:MAINTENANCE"}, env.push.sent)
}

func TestDevToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/auth/dev-token", "", map[string]string{"user_id": "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	tok := decode(t, w)["access_token"].(string)

	claims, err := env.auth.Verify(tok, timeNow())
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "user", claims.Role)

	w = env.do(t, http.MethodPost, "/auth/dev-token", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func timeNow() time.Time { return time.Now() }
