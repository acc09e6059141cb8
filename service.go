// Package lotwire wires the inventory stores, the query engine and
// the push-channel publisher into one synchronization service.
//
// Reads and writes go to the live backend while it is healthy. The
// first connectivity failure fails the service over to the in-memory
// fallback dataset, and the failover is sticky: the service stays on
// the fallback until the process restarts, so a flapping backend can
// never make clients oscillate between datasets mid-session.
package lotwire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/logger"
	"github.com/lotwire/lotwire/pkg/publish"
	"github.com/lotwire/lotwire/pkg/query"
	"github.com/lotwire/lotwire/pkg/store"
	"github.com/lotwire/lotwire/pkg/store/memory"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

// Source identifies which backend currently serves requests.
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Config configures a Service.
type Config struct {
	// Live is the persistent backend. Optional: without it the
	// service runs on the fallback store from the start.
	Live store.Store

	// Fallback serves requests when Live is absent or has failed.
	// Defaults to an empty in-memory store.
	Fallback store.Store

	// Seed pre-populates the fallback store, so a failover before
	// any live snapshot was cached still has data to serve.
	Seed []vehicle.Vehicle

	// Publisher receives one envelope per committed mutation.
	// Optional; without it mutations simply go unannounced.
	Publisher *publish.Publisher

	Logger logger.Logger
}

// Service is the inventory synchronization core: storage-backed CRUD
// with exactly-one-envelope-per-commit publishing and query execution
// that is identical on both backends.
type Service struct {
	live      store.Store
	fallback  store.Store
	publisher *publish.Publisher
	logger    logger.Logger

	degraded atomic.Bool

	// lastGood caches the most recent successful live snapshot; it
	// seeds the fallback on failover.
	snapMu   sync.Mutex
	lastGood []vehicle.Vehicle
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop
	}

	fallback := cfg.Fallback
	if fallback == nil {
		mem := memory.New()
		mem.Seed(cfg.Seed)
		fallback = mem
	} else if mem, ok := fallback.(*memory.Store); ok && len(cfg.Seed) > 0 {
		mem.Seed(cfg.Seed)
	}

	s := &Service{
		live:      cfg.Live,
		fallback:  fallback,
		publisher: cfg.Publisher,
		logger:    log,
	}
	if s.live == nil {
		s.degraded.Store(true)
	}
	return s
}

// Source reports which backend is serving requests.
func (s *Service) Source() Source {
	if s.degraded.Load() {
		return SourceFallback
	}
	return SourceLive
}

func (s *Service) activeStore() store.Store {
	if s.degraded.Load() {
		return s.fallback
	}
	return s.live
}

// isConnectivityError separates backend-down failures, which trigger
// failover, from domain errors like ErrNotFound, which callers must
// see unchanged.
func isConnectivityError(err error) bool {
	if err == nil || errors.Is(err, store.ErrNotFound) {
		return false
	}
	var verr *query.ValidationError
	return !errors.As(err, &verr)
}

// failover switches the service to the fallback store, once. The
// fallback is seeded with the last known-good live snapshot so
// clients keep seeing the data they had, not an unrelated dataset.
func (s *Service) failover(ctx context.Context, cause error) {
	if s.degraded.Swap(true) {
		return
	}
	s.logger.Warn("live backend failed, serving fallback dataset until restart", "error", cause)

	s.snapMu.Lock()
	seed := s.lastGood
	s.snapMu.Unlock()
	if len(seed) == 0 {
		return
	}

	if existing, err := s.fallback.Snapshot(ctx); err != nil || len(existing) > 0 {
		return
	}

	// Seed preserves the cached snapshot verbatim, timestamps
	// included, so reads before and after failover agree.
	if mem, ok := s.fallback.(*memory.Store); ok {
		mem.Seed(seed)
		return
	}
	for i := range seed {
		v := seed[i]
		if err := s.fallback.Create(ctx, &v); err != nil {
			s.logger.Error("seeding fallback store failed", "id", seed[i].ID, "error", err)
		}
	}
}

func (s *Service) cacheSnapshot(snapshot []vehicle.Vehicle) {
	s.snapMu.Lock()
	s.lastGood = snapshot
	s.snapMu.Unlock()
}

// snapshot reads the active backend, failing over on a connectivity
// error and retrying once against the fallback.
func (s *Service) snapshot(ctx context.Context) ([]vehicle.Vehicle, error) {
	st := s.activeStore()
	snap, err := st.Snapshot(ctx)
	if err != nil {
		if !isConnectivityError(err) || s.degraded.Load() {
			return nil, err
		}
		s.failover(ctx, err)
		return s.fallback.Snapshot(ctx)
	}

	if !s.degraded.Load() {
		s.cacheSnapshot(snap)
	}
	return snap, nil
}

// List executes a filtered, sorted, paginated read over the active
// backend's current snapshot.
func (s *Service) List(ctx context.Context, req query.Request) (*query.Result, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vehicles: %w", err)
	}
	return query.Execute(snap, req)
}

// Get returns one vehicle by id.
func (s *Service) Get(ctx context.Context, id string) (*vehicle.Vehicle, error) {
	v, err := s.activeStore().Get(ctx, id)
	if err != nil {
		if !isConnectivityError(err) || s.degraded.Load() {
			return nil, err
		}
		s.failover(ctx, err)
		return s.fallback.Get(ctx, id)
	}
	return v, nil
}

// Create persists a vehicle and publishes entity_created. The
// envelope goes out only after the storage commit, and exactly once.
func (s *Service) Create(ctx context.Context, v *vehicle.Vehicle) error {
	err := s.activeStore().Create(ctx, v)
	if err != nil {
		if !isConnectivityError(err) || s.degraded.Load() {
			return err
		}
		s.failover(ctx, err)
		if err := s.fallback.Create(ctx, v); err != nil {
			return err
		}
	}

	s.publish(event.Created(*v))
	return nil
}

// Update replaces a vehicle and publishes entity_updated.
func (s *Service) Update(ctx context.Context, v *vehicle.Vehicle) error {
	err := s.activeStore().Update(ctx, v)
	if err != nil {
		if !isConnectivityError(err) || s.degraded.Load() {
			return err
		}
		s.failover(ctx, err)
		if err := s.fallback.Update(ctx, v); err != nil {
			return err
		}
	}

	s.publish(event.Updated(*v))
	return nil
}

// Delete removes a vehicle and publishes entity_deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.activeStore().Delete(ctx, id)
	if err != nil {
		if !isConnectivityError(err) || s.degraded.Load() {
			return err
		}
		s.failover(ctx, err)
		if err := s.fallback.Delete(ctx, id); err != nil {
			return err
		}
	}

	s.publish(event.Removed(id))
	return nil
}

// SetStatus transitions a vehicle's lifecycle status and publishes
// status_changed.
func (s *Service) SetStatus(ctx context.Context, id string, status vehicle.Status, note string) (*vehicle.Vehicle, error) {
	v, err := s.activeStore().SetStatus(ctx, id, status, note)
	if err != nil {
		if !isConnectivityError(err) || s.degraded.Load() {
			return nil, err
		}
		s.failover(ctx, err)
		v, err = s.fallback.SetStatus(ctx, id, status, note)
		if err != nil {
			return nil, err
		}
	}

	s.publish(event.StatusChanged(v.ID, v.Status, note))
	return v, nil
}

// Refresh broadcasts the full current dataset as one bulk_update
// envelope. It backs the request_inventory_update client frame.
func (s *Service) Refresh(ctx context.Context) error {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("refreshing inventory: %w", err)
	}
	s.publish(event.Refreshed(snap))
	return nil
}

func (s *Service) publish(env event.Envelope) {
	if s.publisher != nil {
		s.publisher.Publish(env)
	}
}
