package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voip-dashboard/internal/calls"
	"voip-dashboard/internal/notifications"
	"voip-dashboard/internal/realtime"
	"voip-dashboard/internal/telephony"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OwnerResolver maps a dialed number to its owner; "" means unowned.
type OwnerResolver interface {
	ResolveOwner(ctx context.Context, phoneNumber string) (string, error)
}

// Reconciler applies provider voice webhooks to call records.
//
// Transitions are status-gated and idempotent, so duplicate and out-of-order
// deliveries converge. Every read-modify-write goes through Store.Update.
type Reconciler struct {
	store    calls.Store
	resolver OwnerResolver
	push     realtime.Notifier
	notes    *notifications.Service
	dedup    Deduper
	clock    func() time.Time
	log      *zap.Logger
}

type ReconcilerOption func(*Reconciler)

// WithDeduper skips provider event ids that were already processed.
func WithDeduper(d Deduper) ReconcilerOption {
	return func(r *Reconciler) { r.dedup = d }
}

// WithNotifications records persisted notifications for call milestones.
func WithNotifications(n *notifications.Service) ReconcilerOption {
	return func(r *Reconciler) { r.notes = n }
}

func NewReconciler(store calls.Store, resolver OwnerResolver, push realtime.Notifier, log *zap.Logger, opts ...ReconcilerOption) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reconciler{
		store:    store,
		resolver: resolver,
		push:     push,
		clock:    time.Now,
		log:      log.Named("webhook"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleWebhook parses and processes one delivery. It never returns an error
// and never panics; the provider is always acknowledged. A de-dup claim is
// released unless processing completed, so retries of a failed delivery run.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte) {
	log := r.log
	var claimed string
	processed := false
	defer func() {
		if p := recover(); p != nil {
			log.Error("webhook processing panicked", zap.Any("panic", p))
		}
		if claimed != "" && !processed {
			if err := r.dedup.Release(ctx, claimed); err != nil {
				log.Warn("webhook dedup release failed", zap.Error(err))
			}
		}
	}()

	ev, err := telephony.ParseVoiceWebhook(body)
	if err != nil {
		log.Warn("malformed voice webhook", zap.Error(err), zap.Int("bytes", len(body)))
		return
	}
	log = log.With(
		zap.String("event_type", ev.EventType),
		zap.String("event_id", ev.EventID),
		zap.String("call_control_id", ev.ExternalID.CallControlID),
	)

	if r.dedup != nil && ev.EventID != "" {
		first, err := r.dedup.Claim(ctx, ev.EventID)
		switch {
		case err != nil:
			log.Warn("webhook dedup claim failed", zap.Error(err))
		case !first:
			log.Debug("duplicate webhook delivery skipped")
			return
		default:
			claimed = ev.EventID
		}
	}

	if err := r.Process(ctx, ev); err != nil {
		log.Error("voice webhook processing failed", zap.Error(err))
		return
	}
	processed = true
}

// Process applies ev. Unknown calls and unknown event kinds are ignored
// without error; store failures are returned. The raw payload is stored last
// whether or not the transition succeeded.
func (r *Reconciler) Process(ctx context.Context, ev telephony.VoiceEvent) error {
	if ev.ExternalID.IsZero() {
		return fmt.Errorf("%w: event %q carries no call id", ErrValidation, ev.EventType)
	}

	var err error
	switch ev.Kind {
	case telephony.EventInitiated:
		err = r.onInitiated(ctx, ev)
	case telephony.EventRinging:
		err = r.advance(ctx, ev, calls.StatusRinging, PushCallRinging)
	case telephony.EventAnswered:
		err = r.advance(ctx, ev, calls.StatusAnswered, PushCallAnswered)
	case telephony.EventDeclined:
		err = r.advance(ctx, ev, calls.StatusDeclined, PushCallDeclined)
	case telephony.EventFailed:
		err = r.advance(ctx, ev, calls.StatusFailed, "")
	case telephony.EventHangup:
		err = r.onHangup(ctx, ev)
	default:
		r.log.Debug("unhandled voice event", zap.String("event_type", ev.EventType))
	}

	r.storePayload(ctx, ev)
	return err
}

func (r *Reconciler) onInitiated(ctx context.Context, ev telephony.VoiceEvent) error {
	if _, err := r.store.FindByExternalID(ctx, ev.ExternalID); err == nil {
		return nil
	} else if !errors.Is(err, calls.ErrNotFound) {
		return fmt.Errorf("find call: %w", err)
	}

	owner := ""
	if ev.Direction == calls.DirectionInbound && r.resolver != nil {
		o, err := r.resolver.ResolveOwner(ctx, ev.To)
		if err != nil {
			r.log.Warn("owner lookup failed; recording call unattributed", zap.String("to", ev.To), zap.Error(err))
		} else {
			owner = o
		}
	}

	now := r.clock().UTC()
	rec, err := r.store.Create(ctx, calls.CallRecord{
		ID:         uuid.NewString(),
		ExternalID: ev.ExternalID,
		From:       ev.From,
		To:         ev.To,
		Direction:  ev.Direction,
		Status:     calls.StatusInitiated,
		OwnerID:    owner,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if errors.Is(err, calls.ErrDuplicate) {
		// A concurrent delivery or the outbound action created it first.
		return nil
	}
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}

	r.log.Info("call recorded",
		zap.String("call_id", rec.ID),
		zap.String("direction", string(rec.Direction)),
		zap.Bool("attributed", rec.OwnerID != ""),
	)

	if rec.Direction == calls.DirectionInbound && rec.OwnerID != "" {
		r.notify(rec.OwnerID, callMessage(PushInboundCall, rec))
		r.record(ctx, rec.OwnerID, "Incoming call", fmt.Sprintf("Incoming call from %s", rec.From), rec)
	}
	return nil
}

// advance moves the record to target when that is a forward step and pushes
// pushType when the record ends in target.
func (r *Reconciler) advance(ctx context.Context, ev telephony.VoiceEvent, target calls.Status, pushType string) error {
	rec, err := r.store.Update(ctx, ev.ExternalID, func(rec *calls.CallRecord) error {
		if rec.Status.CanAdvanceTo(target) {
			rec.Status = target
		}
		return nil
	})
	if errors.Is(err, calls.ErrNotFound) {
		r.log.Info("event for unknown call ignored", zap.String("event_type", ev.EventType))
		return nil
	}
	if err != nil {
		return fmt.Errorf("update call to %s: %w", target, err)
	}

	if pushType != "" && rec.Status == target && rec.OwnerID != "" {
		r.notify(rec.OwnerID, callMessage(pushType, rec))
	}
	return nil
}

func (r *Reconciler) onHangup(ctx context.Context, ev telephony.VoiceEvent) error {
	now := r.clock().UTC()
	var ended bool
	rec, err := r.store.Update(ctx, ev.ExternalID, func(rec *calls.CallRecord) error {
		declined := ev.Rejected || rec.Status == calls.StatusDeclined
		target := calls.StatusCompleted
		if declined {
			target = calls.StatusDeclined
		}
		if rec.Status.CanAdvanceTo(target) {
			rec.Status = target
			ended = true
		}
		applyDuration(rec, ev.Duration, declined, now)
		return nil
	})
	if errors.Is(err, calls.ErrNotFound) {
		r.log.Info("hangup for unknown call ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("update call on hangup: %w", err)
	}

	if rec.OwnerID == "" {
		return nil
	}
	r.notify(rec.OwnerID, callMessage(PushCallEnded, rec))
	if ended {
		r.record(ctx, rec.OwnerID, "Call ended", fmt.Sprintf("Call with %s ended (%s)", counterpart(rec), rec.Status), rec)
	}
	return nil
}

// storePayload keeps the raw body for diagnostics. Failures are logged only.
func (r *Reconciler) storePayload(ctx context.Context, ev telephony.VoiceEvent) {
	if len(ev.Raw) == 0 {
		return
	}
	_, err := r.store.Update(ctx, ev.ExternalID, func(rec *calls.CallRecord) error {
		rec.LastProviderPayload = ev.Raw
		return nil
	})
	if err != nil && !errors.Is(err, calls.ErrNotFound) {
		r.log.Warn("storing provider payload failed", zap.Error(err))
	}
}

func (r *Reconciler) notify(userID string, msg realtime.Message) {
	if r.push == nil {
		return
	}
	r.push.SendToUser(userID, msg)
}

func (r *Reconciler) record(ctx context.Context, userID, title, message string, rec calls.CallRecord) {
	if r.notes == nil {
		return
	}
	if err := r.notes.Record(ctx, userID, notifications.TypeCall, title, message, callMessage("", rec).Data); err != nil {
		r.log.Warn("call notification failed", zap.Error(err))
	}
}

func counterpart(r calls.CallRecord) string {
	if r.Direction == calls.DirectionInbound {
		return r.From
	}
	return r.To
}
