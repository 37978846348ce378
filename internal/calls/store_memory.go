package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests and local runs.
// A single mutex serializes updates, which gives the same read-modify-write
// guarantee as the row lock in PostgresStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*CallRecord
	byKey   map[string]string // external id value -> record id
	clock   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*CallRecord),
		byKey:   make(map[string]string),
		clock:   time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, r CallRecord) (CallRecord, error) {
	if err := validateNew(r); err != nil {
		return CallRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range r.Keys() {
		if _, taken := s.byKey[k]; taken {
			return CallRecord{}, ErrDuplicate
		}
	}

	now := s.clock().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	stored := clone(r)
	s.records[r.ID] = &stored
	for _, k := range r.Keys() {
		s.byKey[k] = r.ID
	}
	return clone(stored), nil
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, id ExternalID) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(id)
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return clone(*rec), nil
}

func (s *MemoryStore) Update(ctx context.Context, id ExternalID, fn Mutator) (CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.lookup(id)
	if !ok {
		return CallRecord{}, ErrNotFound
	}

	next := clone(*rec)
	if err := fn(&next); err != nil {
		return CallRecord{}, err
	}
	// Immutable fields.
	next.ID = rec.ID
	next.CreatedAt = rec.CreatedAt

	for _, k := range next.Keys() {
		if owner, taken := s.byKey[k]; taken && owner != rec.ID {
			return CallRecord{}, ErrDuplicate
		}
	}
	for _, k := range next.Keys() {
		s.byKey[k] = rec.ID
	}

	next.UpdatedAt = s.clock().UTC()
	*rec = next
	return clone(next), nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []CallRecord
	for _, r := range s.records {
		if ownerID != "" && r.OwnerID == ownerID {
			out = append(out, clone(*r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many records exist.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) lookup(id ExternalID) (*CallRecord, bool) {
	for _, k := range id.Keys() {
		if rid, ok := s.byKey[k]; ok {
			return s.records[rid], true
		}
	}
	return nil, false
}

func clone(r CallRecord) CallRecord {
	if r.DurationSeconds != nil {
		d := *r.DurationSeconds
		r.DurationSeconds = &d
	}
	if r.LastProviderPayload != nil {
		r.LastProviderPayload = append([]byte(nil), r.LastProviderPayload...)
	}
	return r
}
