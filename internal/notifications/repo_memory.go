package notifications

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo is a simple in-memory repository useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	items []Notification
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) Append(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.items {
		if n.UserID != userID || (unreadOnly && n.Read) {
			continue
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) MarkRead(ctx context.Context, userID, id string) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID == id && r.items[i].UserID == userID {
			r.items[i].Read = true
			return r.items[i], nil
		}
	}
	return Notification{}, ErrNotFound
}

func (r *MemoryRepo) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for i := range r.items {
		if r.items[i].UserID == userID && !r.items[i].Read {
			r.items[i].Read = true
			n++
		}
	}
	return n, nil
}

// All returns a copy of every stored notification.
func (r *MemoryRepo) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}
