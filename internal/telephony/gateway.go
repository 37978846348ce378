package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Gateway is the provider-agnostic call-control surface used by business logic.
// No provider HTTP calls happen outside implementations of this interface.
type Gateway interface {
	CreateCall(ctx context.Context, req CreateCallRequest) (CallHandle, error)
	Answer(ctx context.Context, callControlID string) error
	Hangup(ctx context.Context, callControlID string) error
	Reject(ctx context.Context, callControlID string) error
	SendDTMF(ctx context.Context, callControlID, digits string) error
	ConnectWebRTC(ctx context.Context, callControlID, clientState string) error

	// LookupNumber finds the provider's record for an owned phone number.
	LookupNumber(ctx context.Context, phoneNumber string) (NumberInfo, error)
	// AssignConnection routes voice for a provider number through connectionID.
	AssignConnection(ctx context.Context, providerNumberID, connectionID string) error
}

type CreateCallRequest struct {
	ConnectionID string
	From         string
	To           string
	// TimeoutSecs bounds how long the callee may ring.
	TimeoutSecs int
}

// CallHandle carries the identifiers the provider minted for a new call.
type CallHandle struct {
	CallControlID string `json:"call_control_id"`
	CallLegID     string `json:"call_leg_id"`
	CallSessionID string `json:"call_session_id"`
	IsAlive       bool   `json:"is_alive"`
}

type NumberInfo struct {
	ID           string `json:"id"`
	PhoneNumber  string `json:"phone_number"`
	ConnectionID string `json:"connection_id"`
	Status       string `json:"status"`
}

// ErrProviderNotFound is returned when the provider answers 404.
var ErrProviderNotFound = errors.New("telephony: not found at provider")

// ProviderError is any non-2xx, non-404 provider response.
type ProviderError struct {
	Op     string
	Status int
	Detail string
}

func (e *ProviderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("telephony: %s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("telephony: %s failed with status %d: %s", e.Op, e.Status, e.Detail)
}
