package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultListLimit caps listings.
const DefaultListLimit = 50

var (
	ErrInvalidNotification = errors.New("notifications: invalid notification")
	ErrNotFound            = errors.New("notifications: not found")
)

// Repository persists notifications. Rows are never deleted.
type Repository interface {
	Append(ctx context.Context, n Notification) error
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) (Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// Service writes and reads user notifications. Callers treat writes as
// best-effort and must not fail a primary flow on them.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) Append(ctx context.Context, n Notification) error {
	if s.repo == nil {
		return errors.New("notifications: repository not configured")
	}
	if n.UserID == "" || !n.Type.Valid() {
		return ErrInvalidNotification
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, n)
}

// Record builds and appends a notification; data is encoded as JSON.
func (s *Service) Record(ctx context.Context, userID string, typ Type, title, message string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("notifications: encode data: %w", err)
		}
		raw = b
	}
	return s.Append(ctx, Notification{
		UserID:  userID,
		Type:    typ,
		Title:   title,
		Message: message,
		Data:    raw,
	})
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	if userID == "" {
		return nil, ErrInvalidNotification
	}
	return s.repo.List(ctx, userID, unreadOnly, DefaultListLimit)
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) (Notification, error) {
	if userID == "" || id == "" {
		return Notification{}, ErrInvalidNotification
	}
	return s.repo.MarkRead(ctx, userID, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrInvalidNotification
	}
	return s.repo.MarkAllRead(ctx, userID)
}
