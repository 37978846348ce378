package numbers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	byNumber map[string]PhoneNumber
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byNumber: make(map[string]PhoneNumber)}
}

func (r *MemoryRepo) Create(ctx context.Context, n PhoneNumber) (PhoneNumber, error) {
	if n.OwnerID == "" || n.PhoneNumber == "" {
		return PhoneNumber{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byNumber[n.PhoneNumber]; taken {
		return PhoneNumber{}, ErrInvalidArgument
	}
	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt, n.UpdatedAt = now, now
	r.byNumber[n.PhoneNumber] = n
	return n, nil
}

func (r *MemoryRepo) FindByNumber(ctx context.Context, phoneNumber string) (PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byNumber[phoneNumber]
	if !ok {
		return PhoneNumber{}, ErrNotFound
	}
	return n, nil
}

func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string) ([]PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PhoneNumber
	for _, n := range r.byNumber {
		if n.OwnerID == ownerID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) SetConnection(ctx context.Context, id, providerNumberID, connectionID string) (PhoneNumber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, n := range r.byNumber {
		if n.ID != id {
			continue
		}
		if providerNumberID != "" {
			n.ProviderNumberID = providerNumberID
		}
		n.ConnectionID = connectionID
		n.UpdatedAt = time.Now().UTC()
		r.byNumber[k] = n
		return n, nil
	}
	return PhoneNumber{}, ErrNotFound
}
