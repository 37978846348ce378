package numbers

import "time"

// PhoneNumber records that a user owns a provisioned number.
// ConnectionID is empty until voice has been enabled for the number.
type PhoneNumber struct {
	ID               string    `json:"id" db:"id"`
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	PhoneNumber      string    `json:"phone_number" db:"phone_number"`
	ProviderNumberID string    `json:"provider_number_id,omitempty" db:"provider_number_id"`
	ConnectionID     string    `json:"connection_id,omitempty" db:"connection_id"`
	CountryCode      string    `json:"country_code,omitempty" db:"country_code"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// VoiceReady reports whether calls can be placed from this number.
func (n PhoneNumber) VoiceReady() bool {
	return n.ConnectionID != ""
}
