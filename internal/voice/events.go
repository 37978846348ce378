package voice

import (
	"voip-dashboard/internal/calls"
	"voip-dashboard/internal/realtime"
)

// Push message types sent to browsers.
const (
	PushInboundCall  = "INBOUND_CALL"
	PushCallRinging  = "CALL_RINGING"
	PushCallAnswered = "CALL_ANSWERED"
	PushCallEnded    = "CALL_ENDED"
	PushCallDeclined = "CALL_DECLINED"
)

// CallUpdate is the data of every call push message.
type CallUpdate struct {
	ID              string          `json:"id"`
	CallControlID   string          `json:"callControlId,omitempty"`
	LegID           string          `json:"legId,omitempty"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	Direction       calls.Direction `json:"direction"`
	Status          calls.Status    `json:"status"`
	DurationSeconds *int            `json:"durationSeconds,omitempty"`
}

func callMessage(typ string, r calls.CallRecord) realtime.Message {
	return realtime.Message{
		Type: typ,
		Data: CallUpdate{
			ID:              r.ID,
			CallControlID:   r.CallControlID,
			LegID:           r.LegID,
			From:            r.From,
			To:              r.To,
			Direction:       r.Direction,
			Status:          r.Status,
			DurationSeconds: r.DurationSeconds,
		},
	}
}
