package numbers

import (
	"context"
	"errors"
	"fmt"

	"voip-dashboard/internal/notifications"
	"voip-dashboard/internal/telephony"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no media connection id is configured.
var ErrNotConfigured = errors.New("numbers: voice connection not configured")

// ProviderNumbers is the slice of the provider gateway the enable-voice flow needs.
type ProviderNumbers interface {
	LookupNumber(ctx context.Context, phoneNumber string) (telephony.NumberInfo, error)
	AssignConnection(ctx context.Context, providerNumberID, connectionID string) error
}

type Service struct {
	repo         Repository
	provider     ProviderNumbers
	notes        *notifications.Service
	connectionID string
	log          *zap.Logger
}

func NewService(repo Repository, provider ProviderNumbers, notes *notifications.Service, connectionID string, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, provider: provider, notes: notes, connectionID: connectionID, log: log}
}

// ListMine returns the numbers owned by ownerID.
func (s *Service) ListMine(ctx context.Context, ownerID string) ([]PhoneNumber, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// EnableVoice attaches a media connection to an owned number so calls can be
// placed from it. The provider's existing connection is kept when present.
func (s *Service) EnableVoice(ctx context.Context, ownerID, phoneNumber string) (PhoneNumber, error) {
	if ownerID == "" || phoneNumber == "" {
		return PhoneNumber{}, ErrInvalidArgument
	}
	n, err := s.repo.FindByNumber(ctx, phoneNumber)
	if err != nil {
		return PhoneNumber{}, err
	}
	if n.OwnerID != ownerID {
		return PhoneNumber{}, ErrNotFound
	}

	info, err := s.provider.LookupNumber(ctx, phoneNumber)
	if err != nil {
		if errors.Is(err, telephony.ErrProviderNotFound) {
			return PhoneNumber{}, ErrNotFound
		}
		return PhoneNumber{}, fmt.Errorf("lookup provider number: %w", err)
	}

	connectionID := info.ConnectionID
	if connectionID == "" {
		if s.connectionID == "" {
			return PhoneNumber{}, ErrNotConfigured
		}
		if err := s.provider.AssignConnection(ctx, info.ID, s.connectionID); err != nil {
			return PhoneNumber{}, fmt.Errorf("assign connection: %w", err)
		}
		connectionID = s.connectionID
	}

	updated, err := s.repo.SetConnection(ctx, n.ID, info.ID, connectionID)
	if err != nil {
		return PhoneNumber{}, err
	}

	if s.notes != nil {
		if err := s.notes.Record(ctx, ownerID, notifications.TypeNumber,
			"Voice enabled",
			fmt.Sprintf("Voice calling enabled for %s", phoneNumber),
			map[string]any{"phoneNumber": phoneNumber, "connectionId": connectionID},
		); err != nil {
			s.log.Warn("voice enabled notification failed", zap.Error(err))
		}
	}
	return updated, nil
}
