package calls

import (
	"encoding/json"
	"time"
)

// CallRecord is the local mirror of one provider call leg.
//
// Invariants:
//   - Status only moves forward (see Status.CanAdvanceTo).
//   - At most one record exists per CallControlID or LegID.
//   - Records are never deleted.
type CallRecord struct {
	ID string `json:"id" db:"id"`

	ExternalID

	From      string    `json:"from" db:"from_number"`
	To        string    `json:"to" db:"to_number"`
	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	// DurationSeconds stays nil until a provider value arrives or the
	// local fallback computes one.
	DurationSeconds *int `json:"duration_seconds" db:"duration_seconds"`

	// OwnerID is empty while the call cannot be attributed to a user.
	OwnerID string `json:"owner_id,omitempty" db:"owner_id"`

	LastProviderPayload json.RawMessage `json:"-" db:"last_provider_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SetDuration stores seconds as the call duration.
func (r *CallRecord) SetDuration(seconds int) {
	r.DurationSeconds = &seconds
}

// ExternalID is the provider-issued identity of a call. CallControlID is the
// current field; LegID is the legacy one. Either may be the only one known.
type ExternalID struct {
	CallControlID string `json:"call_control_id,omitempty" db:"call_control_id"`
	LegID         string `json:"leg_id,omitempty" db:"leg_id"`
}

// ByCallControlID is shorthand for a lookup key built from a route parameter.
func ByCallControlID(id string) ExternalID {
	return ExternalID{CallControlID: id}
}

func (id ExternalID) IsZero() bool {
	return id.CallControlID == "" && id.LegID == ""
}

// Keys returns the distinct non-empty identifiers.
func (id ExternalID) Keys() []string {
	var out []string
	if id.CallControlID != "" {
		out = append(out, id.CallControlID)
	}
	if id.LegID != "" && id.LegID != id.CallControlID {
		out = append(out, id.LegID)
	}
	return out
}

// Matches reports whether any key of id equals either identifier of other.
// Providers have reported the same value under both field names.
func (id ExternalID) Matches(other ExternalID) bool {
	for _, k := range id.Keys() {
		if k == other.CallControlID || k == other.LegID {
			return true
		}
	}
	return false
}

// Merge fills identifiers missing from id with the ones from other.
func (id ExternalID) Merge(other ExternalID) ExternalID {
	if id.CallControlID == "" {
		id.CallControlID = other.CallControlID
	}
	if id.LegID == "" {
		id.LegID = other.LegID
	}
	return id
}
