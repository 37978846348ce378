package notifications

import (
	"encoding/json"
	"time"
)

// Notification is a persisted, user-visible record of something that
// happened to the user's account. Only Read ever changes after creation.
type Notification struct {
	ID      string `json:"id" db:"id"`
	UserID  string `json:"user_id" db:"user_id"`
	Type    Type   `json:"type" db:"type"`
	Title   string `json:"title" db:"title"`
	Message string `json:"message" db:"message"`

	// Data is optional JSON for the client.
	Data json.RawMessage `json:"data,omitempty" db:"data"`

	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Type string

const (
	TypeCall   Type = "call"
	TypeSMS    Type = "sms"
	TypeNumber Type = "number"
	TypeSystem Type = "system"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCall, TypeSMS, TypeNumber, TypeSystem:
		return true
	}
	return false
}
