package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Good enough for a single gateway
// instance; swap for a database-backed Store when bookings must survive
// restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]Reservation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[uuid.UUID]Reservation)}
}

// Create assigns an ID, status and creation time, then stores the
// reservation.
func (s *MemoryStore) Create(_ context.Context, r *Reservation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = StatusConfirmed
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.byID[r.ID] = *r
	s.mu.Unlock()
	return nil
}

// Get returns the reservation with the given ID.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return r, nil
}

// List returns all reservations, oldest first.
func (s *MemoryStore) List(_ context.Context) ([]Reservation, error) {
	s.mu.RLock()
	out := make([]Reservation, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Cancel marks the reservation cancelled and returns the updated record.
func (s *MemoryStore) Cancel(_ context.Context, id uuid.UUID) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	r.Status = StatusCancelled
	s.byID[id] = r
	return r, nil
}
