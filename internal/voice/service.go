package voice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"voip-dashboard/internal/calls"
	"voip-dashboard/internal/notifications"
	"voip-dashboard/internal/numbers"
	"voip-dashboard/internal/telephony"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRingTimeoutSecs bounds how long an outbound call rings.
const DefaultRingTimeoutSecs = 30

// NumberLookup finds the local ownership record for a phone number.
type NumberLookup interface {
	FindByNumber(ctx context.Context, phoneNumber string) (numbers.PhoneNumber, error)
}

// Service is the user-facing call-control surface. Provider calls go through
// the gateway; records go through the call store.
type Service struct {
	gateway      telephony.Gateway
	store        calls.Store
	numbers      NumberLookup
	notes        *notifications.Service
	connectionID string
	validate     *validator.Validate
	// clock is injectable for deterministic tests.
	clock func() time.Time
	log   *zap.Logger
}

type ServiceConfig struct {
	Gateway telephony.Gateway
	Store   calls.Store
	Numbers NumberLookup
	Notes   *notifications.Service
	// ConnectionID is the media connection used by the legacy call path.
	ConnectionID string
	Log          *zap.Logger
}

func NewService(cfg ServiceConfig) *Service {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("dtmf", func(fl validator.FieldLevel) bool {
		return dtmfDigits.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("voice: register dtmf validation: %v", err))
	}
	return &Service{
		gateway:      cfg.Gateway,
		store:        cfg.Store,
		numbers:      cfg.Numbers,
		notes:        cfg.Notes,
		connectionID: cfg.ConnectionID,
		validate:     v,
		clock:        time.Now,
		log:          log.Named("voice"),
	}
}

var dtmfDigits = regexp.MustCompile(`^[0-9A-Da-d*#wW]+$`)

type OutboundCallInput struct {
	From string `json:"from" validate:"required,max=32"`
	To   string `json:"to" validate:"required,max=32"`
}

type dtmfInput struct {
	CallControlID string `validate:"required"`
	Digits        string `validate:"required,max=64,dtmf"`
}

// InitiateOutboundCall places a call from a number the caller owns and has
// enabled for voice.
func (s *Service) InitiateOutboundCall(ctx context.Context, callerID string, in OutboundCallInput) (calls.CallRecord, error) {
	num, err := s.ownedNumber(ctx, callerID, in)
	if err != nil {
		return calls.CallRecord{}, err
	}
	if !num.VoiceReady() {
		return calls.CallRecord{}, fmt.Errorf("%w: number %s has no voice connection", ErrStateConflict, in.From)
	}
	return s.placeCall(ctx, callerID, in, num.ConnectionID)
}

// InitiateLegacyCall places a call through the configured connection.
// The caller must still own the from number.
func (s *Service) InitiateLegacyCall(ctx context.Context, callerID string, in OutboundCallInput) (calls.CallRecord, error) {
	if _, err := s.ownedNumber(ctx, callerID, in); err != nil {
		return calls.CallRecord{}, err
	}
	if s.connectionID == "" {
		return calls.CallRecord{}, fmt.Errorf("%w: no voice connection configured", ErrStateConflict)
	}
	return s.placeCall(ctx, callerID, in, s.connectionID)
}

func (s *Service) ownedNumber(ctx context.Context, callerID string, in OutboundCallInput) (numbers.PhoneNumber, error) {
	if callerID == "" {
		return numbers.PhoneNumber{}, invalidf("caller identity required")
	}
	if err := s.validate.Struct(in); err != nil {
		return numbers.PhoneNumber{}, invalidf("from and to are required")
	}
	num, err := s.numbers.FindByNumber(ctx, in.From)
	if errors.Is(err, numbers.ErrNotFound) || (err == nil && num.OwnerID != callerID) {
		return numbers.PhoneNumber{}, fmt.Errorf("%w: number %s", ErrNotFound, in.From)
	}
	if err != nil {
		return numbers.PhoneNumber{}, fmt.Errorf("%w: find number: %v", ErrInternal, err)
	}
	return num, nil
}

func (s *Service) placeCall(ctx context.Context, callerID string, in OutboundCallInput, connectionID string) (calls.CallRecord, error) {
	handle, err := s.gateway.CreateCall(ctx, telephony.CreateCallRequest{
		ConnectionID: connectionID,
		From:         in.From,
		To:           in.To,
		TimeoutSecs:  DefaultRingTimeoutSecs,
	})
	if err != nil {
		return calls.CallRecord{}, s.providerErr("create call", err)
	}
	ext := calls.ExternalID{CallControlID: handle.CallControlID, LegID: handle.CallLegID}
	if ext.IsZero() {
		s.log.Error("provider returned no call id", zap.String("from", in.From))
		return calls.CallRecord{}, ErrUpstream
	}

	now := s.clock().UTC()
	rec, err := s.store.Create(ctx, calls.CallRecord{
		ID:         uuid.NewString(),
		ExternalID: ext,
		From:       in.From,
		To:         in.To,
		Direction:  calls.DirectionOutbound,
		Status:     calls.StatusInitiated,
		OwnerID:    callerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, calls.ErrDuplicate) {
		// The initiated webhook won the race and created an unattributed record.
		rec, err = s.store.Update(ctx, ext, func(r *calls.CallRecord) error {
			r.ExternalID = r.ExternalID.Merge(ext)
			if r.OwnerID == "" {
				r.OwnerID = callerID
			}
			if r.From == "" {
				r.From = in.From
			}
			if r.To == "" {
				r.To = in.To
			}
			return nil
		})
	}
	if err != nil {
		s.log.Error("recording outbound call failed",
			zap.String("call_control_id", ext.CallControlID), zap.Error(err))
		return calls.CallRecord{}, fmt.Errorf("%w: record call: %v", ErrInternal, err)
	}

	s.log.Info("outbound call placed",
		zap.String("call_id", rec.ID),
		zap.String("call_control_id", rec.CallControlID),
		zap.String("user_id", callerID),
	)
	s.record(ctx, callerID, "Outbound call", fmt.Sprintf("Calling %s from %s", in.To, in.From), rec)
	return rec, nil
}

func (s *Service) Answer(ctx context.Context, callControlID string) error {
	if callControlID == "" {
		return invalidf("call id required")
	}
	if err := s.gateway.Answer(ctx, callControlID); err != nil {
		return s.providerErr("answer", err)
	}
	return nil
}

// Hangup ends the call at the provider and marks the local record completed.
// The hangup webhook may arrive later or never, so the duration fallback is
// applied here with the same policy.
func (s *Service) Hangup(ctx context.Context, callControlID string) error {
	if callControlID == "" {
		return invalidf("call id required")
	}
	if err := s.gateway.Hangup(ctx, callControlID); err != nil {
		return s.providerErr("hangup", err)
	}

	now := s.clock().UTC()
	s.updateLocal(ctx, callControlID, "hangup", func(r *calls.CallRecord) error {
		declined := r.Status == calls.StatusDeclined
		if r.Status.CanAdvanceTo(calls.StatusCompleted) {
			r.Status = calls.StatusCompleted
		}
		applyDuration(r, nil, declined, now)
		return nil
	})
	return nil
}

// Decline rejects a ringing inbound call and marks the local record declined.
func (s *Service) Decline(ctx context.Context, callControlID string) error {
	if callControlID == "" {
		return invalidf("call id required")
	}
	if err := s.gateway.Reject(ctx, callControlID); err != nil {
		return s.providerErr("reject", err)
	}
	s.updateLocal(ctx, callControlID, "decline", func(r *calls.CallRecord) error {
		if r.Status.CanAdvanceTo(calls.StatusDeclined) {
			r.Status = calls.StatusDeclined
		}
		return nil
	})
	return nil
}

func (s *Service) SendDTMF(ctx context.Context, callControlID, digits string) error {
	if err := s.validate.Struct(dtmfInput{CallControlID: callControlID, Digits: digits}); err != nil {
		return invalidf("call id and digits (0-9, *, #, A-D, w) required")
	}
	if err := s.gateway.SendDTMF(ctx, callControlID, digits); err != nil {
		return s.providerErr("send dtmf", err)
	}
	return nil
}

// ConnectWebRTC bridges the call's media to a browser client.
func (s *Service) ConnectWebRTC(ctx context.Context, callControlID, clientState string) error {
	if callControlID == "" {
		return invalidf("call id required")
	}
	if err := s.gateway.ConnectWebRTC(ctx, callControlID, clientState); err != nil {
		return s.providerErr("connect webrtc", err)
	}
	return nil
}

// ListCallLogs returns the caller's calls, newest first.
func (s *Service) ListCallLogs(ctx context.Context, callerID string) ([]calls.CallRecord, error) {
	if callerID == "" {
		return nil, invalidf("caller identity required")
	}
	out, err := s.store.ListByOwner(ctx, callerID, calls.DefaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: list calls: %v", ErrInternal, err)
	}
	if out == nil {
		out = []calls.CallRecord{}
	}
	return out, nil
}

// updateLocal applies fn after a provider action already succeeded, so a
// failure here is logged and not returned.
func (s *Service) updateLocal(ctx context.Context, callControlID, action string, fn calls.Mutator) {
	_, err := s.store.Update(ctx, calls.ByCallControlID(callControlID), fn)
	switch {
	case err == nil:
	case errors.Is(err, calls.ErrNotFound):
		s.log.Debug("no local record for call", zap.String("action", action), zap.String("call_control_id", callControlID))
	default:
		s.log.Warn("local call update failed", zap.String("action", action), zap.String("call_control_id", callControlID), zap.Error(err))
	}
}

// providerErr hides provider detail from callers except for not-found.
func (s *Service) providerErr(op string, err error) error {
	if errors.Is(err, telephony.ErrProviderNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	s.log.Error("provider action failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, ErrUpstream)
}

func (s *Service) record(ctx context.Context, userID, title, message string, rec calls.CallRecord) {
	if s.notes == nil {
		return
	}
	if err := s.notes.Record(ctx, userID, notifications.TypeCall, title, message, callMessage("", rec).Data); err != nil {
		s.log.Warn("call notification failed", zap.Error(err))
	}
}
