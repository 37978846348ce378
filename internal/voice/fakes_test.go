package voice

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"voip-dashboard/internal/calls"
	"voip-dashboard/internal/realtime"
	"voip-dashboard/internal/telephony"

	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu      sync.Mutex
	handle  telephony.CallHandle
	err     error
	actions []string
	created []telephony.CreateCallRequest
}

func (g *fakeGateway) CreateCall(ctx context.Context, req telephony.CreateCallRequest) (telephony.CallHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, req)
	if g.err != nil {
		return telephony.CallHandle{}, g.err
	}
	return g.handle, nil
}

func (g *fakeGateway) act(name, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, name+":"+id)
	return g.err
}

func (g *fakeGateway) Answer(ctx context.Context, id string) error { return g.act("answer", id) }
func (g *fakeGateway) Hangup(ctx context.Context, id string) error { return g.act("hangup", id) }
func (g *fakeGateway) Reject(ctx context.Context, id string) error { return g.act("reject", id) }
func (g *fakeGateway) SendDTMF(ctx context.Context, id, digits string) error {
	return g.act("dtmf="+digits, id)
}
func (g *fakeGateway) ConnectWebRTC(ctx context.Context, id, state string) error {
	return g.act("webrtc", id)
}
func (g *fakeGateway) LookupNumber(ctx context.Context, phone string) (telephony.NumberInfo, error) {
	return telephony.NumberInfo{}, g.err
}
func (g *fakeGateway) AssignConnection(ctx context.Context, id, conn string) error { return g.err }

type sentMessage struct {
	UserID string
	Msg    realtime.Message
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (n *fakeNotifier) SendToUser(userID string, msg realtime.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{UserID: userID, Msg: msg})
}

func (n *fakeNotifier) Broadcast(msg realtime.Message) { n.SendToUser("*", msg) }

func (n *fakeNotifier) BroadcastExceptUser(userID string, msg realtime.Message) {
	n.SendToUser("!"+userID, msg)
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Msg.Type)
	}
	return out
}

type staticResolver map[string]string

func (r staticResolver) ResolveOwner(ctx context.Context, phone string) (string, error) {
	return r[phone], nil
}

// webhookBody builds a provider envelope for eventType with the given payload fields.
func webhookBody(t *testing.T, eventID, eventType string, payload map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"id":         eventID,
			"event_type": eventType,
			"payload":    payload,
		},
	})
	require.NoError(t, err)
	return b
}

func intPtr(v int) *int { return &v }

func callWithDuration(d *int) calls.CallRecord {
	return calls.CallRecord{CreatedAt: t0, DurationSeconds: d}
}
