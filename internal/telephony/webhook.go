package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"voip-dashboard/internal/calls"

	"github.com/mitchellh/mapstructure"
)

// EventKind is the closed set of call lifecycle events the reconciler acts on.
// Provider event-type spellings are mapped onto it once, at parse time.
type EventKind string

const (
	EventInitiated EventKind = "initiated"
	EventRinging   EventKind = "ringing"
	EventAnswered  EventKind = "answered"
	EventHangup    EventKind = "hangup"
	EventDeclined  EventKind = "declined"
	EventFailed    EventKind = "failed"
	EventUnknown   EventKind = "unknown"
)

var eventKinds = map[string]EventKind{
	"call.initiated": EventInitiated,
	"call.ringing":   EventRinging,
	"call.progress":  EventRinging,
	"call.answered":  EventAnswered,
	"call.bridged":   EventAnswered,
	"call.hangup":    EventHangup,
	"call.ended":     EventHangup,
	"call.completed": EventHangup,
	"call.rejected":  EventDeclined,
	"call.declined":  EventDeclined,
	"call.failed":    EventFailed,
}

// ClassifyEventType maps a provider event_type onto an EventKind.
func ClassifyEventType(eventType string) EventKind {
	if k, ok := eventKinds[strings.ToLower(strings.TrimSpace(eventType))]; ok {
		return k
	}
	return EventUnknown
}

// VoiceEvent is a normalized voice webhook.
type VoiceEvent struct {
	// EventID is the provider's unique id for this delivery, if any.
	EventID   string
	EventType string
	Kind      EventKind

	ExternalID calls.ExternalID
	SessionID  string

	From      string
	To        string
	Direction calls.Direction

	// Duration is set only when the provider reported one.
	Duration *int
	// Rejected is true when ancillary fields mark the call as refused by the callee.
	Rejected bool

	OccurredAt time.Time
	// Raw is the full request body.
	Raw json.RawMessage
}

var ErrMalformedWebhook = errors.New("telephony: malformed webhook")

type webhookEnvelope struct {
	Data struct {
		ID         string         `json:"id"`
		EventType  string         `json:"event_type"`
		OccurredAt string         `json:"occurred_at"`
		Payload    map[string]any `json:"payload"`
	} `json:"data"`
}

// payloadFields lists the payload keys we read. Providers send some of these
// as numbers and some as strings, so decoding is weakly typed.
type payloadFields struct {
	CallControlID  string `mapstructure:"call_control_id"`
	CallLegID      string `mapstructure:"call_leg_id"`
	CallSessionID  string `mapstructure:"call_session_id"`
	From           string `mapstructure:"from"`
	CallerIDNumber string `mapstructure:"caller_id_number"`
	To             string `mapstructure:"to"`
	CalleeIDNumber string `mapstructure:"callee_id_number"`
	Direction      string `mapstructure:"direction"`
	HangupCause    string `mapstructure:"hangup_cause"`
	SIPHangupCause string `mapstructure:"sip_hangup_cause"`
	State          string `mapstructure:"state"`
	Status         string `mapstructure:"status"`
}

// Checked in order; the first parseable value wins.
var durationKeys = []string{"duration_secs", "duration_seconds", "call_duration", "duration"}

var rejectCauses = map[string]struct{}{
	"call_rejected": {},
	"rejected":      {},
	"user_busy":     {},
	"declined":      {},
}

// ParseVoiceWebhook decodes a `{data:{event_type, payload}}` body.
// Only a missing event type or an undecodable body is an error; every
// other field is best-effort.
func ParseVoiceWebhook(body []byte) (VoiceEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return VoiceEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if env.Data.EventType == "" {
		return VoiceEvent{}, fmt.Errorf("%w: missing event_type", ErrMalformedWebhook)
	}

	var p payloadFields
	if err := decodeWeak(env.Data.Payload, &p); err != nil {
		return VoiceEvent{}, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}

	ev := VoiceEvent{
		EventID:    env.Data.ID,
		EventType:  env.Data.EventType,
		Kind:       ClassifyEventType(env.Data.EventType),
		ExternalID: calls.ExternalID{CallControlID: p.CallControlID, LegID: p.CallLegID},
		SessionID:  p.CallSessionID,
		From:       firstNonEmpty(p.From, p.CallerIDNumber),
		To:         firstNonEmpty(p.To, p.CalleeIDNumber),
		Direction:  normalizeDirection(p.Direction, p.CallSessionID),
		Duration:   payloadDuration(env.Data.Payload),
		Rejected:   isRejection(p),
		Raw:        append(json.RawMessage(nil), body...),
	}
	if ts, err := time.Parse(time.RFC3339Nano, env.Data.OccurredAt); err == nil {
		ev.OccurredAt = ts
	}
	return ev, nil
}

func decodeWeak(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

func normalizeDirection(raw, sessionID string) calls.Direction {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "incoming", "inbound":
		return calls.DirectionInbound
	case "outgoing", "outbound":
		return calls.DirectionOutbound
	}
	if sessionID != "" {
		return calls.DirectionInbound
	}
	return calls.DirectionOutbound
}

func payloadDuration(payload map[string]any) *int {
	for _, key := range durationKeys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		var f float64
		if err := mapstructure.WeakDecode(v, &f); err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		secs := int(math.Floor(f))
		return &secs
	}
	return nil
}

func isRejection(p payloadFields) bool {
	if _, ok := rejectCauses[strings.ToLower(p.HangupCause)]; ok {
		return true
	}
	if strings.TrimSpace(p.SIPHangupCause) == "603" {
		return true
	}
	for _, s := range []string{p.State, p.Status} {
		switch strings.ToLower(s) {
		case "rejected", "declined":
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
