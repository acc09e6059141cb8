// Package memory implements the fallback dataset store: an in-memory
// mutable collection standing in for the persistent store while it is
// unreachable.
//
// Contents are process-local and non-durable; they are lost on
// restart. That is an accepted, documented limitation of the fallback
// path, not a bug.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lotwire/lotwire/pkg/store"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

// Store is a mutex-guarded collection preserving insertion order, so
// repeated snapshots of unchanged data are byte-for-byte identical
// inputs to the query engine.
type Store struct {
	mu       sync.RWMutex
	vehicles []vehicle.Vehicle
	index    map[string]int

	// now is swappable for tests.
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty fallback store.
func New() *Store {
	return &Store{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// Seed replaces the collection, e.g. with the last known live
// snapshot at the moment of failover.
func (s *Store) Seed(vehicles []vehicle.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.vehicles = make([]vehicle.Vehicle, len(vehicles))
	copy(s.vehicles, vehicles)
	s.index = make(map[string]int, len(vehicles))
	for i, v := range s.vehicles {
		s.index[v.ID] = i
	}
}

func (s *Store) Snapshot(ctx context.Context) ([]vehicle.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]vehicle.Vehicle, len(s.vehicles))
	copy(out, s.vehicles)
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*vehicle.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	v := s.vehicles[i]
	return &v, nil
}

// Create inserts the vehicle, synthesizing an identifier when the
// caller did not provide one, and stamps the timestamps.
func (s *Store) Create(ctx context.Context, v *vehicle.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	now := s.now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	s.index[v.ID] = len(s.vehicles)
	s.vehicles = append(s.vehicles, *v)
	return nil
}

func (s *Store) Update(ctx context.Context, v *vehicle.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[v.ID]
	if !ok {
		return store.ErrNotFound
	}

	v.CreatedAt = s.vehicles[i].CreatedAt
	v.UpdatedAt = s.now()
	s.vehicles[i] = *v
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return store.ErrNotFound
	}

	s.vehicles = append(s.vehicles[:i], s.vehicles[i+1:]...)
	delete(s.index, id)
	for j := i; j < len(s.vehicles); j++ {
		s.index[s.vehicles[j].ID] = j
	}
	return nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status vehicle.Status, note string) (*vehicle.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	s.vehicles[i].Status = status
	if note != "" {
		s.vehicles[i].Note = note
	}
	s.vehicles[i].UpdatedAt = s.now()

	v := s.vehicles[i]
	return &v, nil
}
