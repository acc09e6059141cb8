package lotwire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/publish"
	"github.com/lotwire/lotwire/pkg/query"
	"github.com/lotwire/lotwire/pkg/store"
	"github.com/lotwire/lotwire/pkg/store/memory"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

var errBackendDown = errors.New("dial tcp: connection refused")

// flakyStore wraps a memory store and fails every call once failing
// is set, simulating a live backend outage.
type flakyStore struct {
	*memory.Store
	failing bool
}

func (f *flakyStore) Snapshot(ctx context.Context) ([]vehicle.Vehicle, error) {
	if f.failing {
		return nil, errBackendDown
	}
	return f.Store.Snapshot(ctx)
}

func (f *flakyStore) Get(ctx context.Context, id string) (*vehicle.Vehicle, error) {
	if f.failing {
		return nil, errBackendDown
	}
	return f.Store.Get(ctx, id)
}

func (f *flakyStore) Create(ctx context.Context, v *vehicle.Vehicle) error {
	if f.failing {
		return errBackendDown
	}
	return f.Store.Create(ctx, v)
}

func (f *flakyStore) Update(ctx context.Context, v *vehicle.Vehicle) error {
	if f.failing {
		return errBackendDown
	}
	return f.Store.Update(ctx, v)
}

func (f *flakyStore) Delete(ctx context.Context, id string) error {
	if f.failing {
		return errBackendDown
	}
	return f.Store.Delete(ctx, id)
}

func (f *flakyStore) SetStatus(ctx context.Context, id string, status vehicle.Status, note string) (*vehicle.Vehicle, error) {
	if f.failing {
		return nil, errBackendDown
	}
	return f.Store.SetStatus(ctx, id, status, note)
}

// captureSink records published envelopes.
type captureSink struct {
	ch chan event.Envelope
}

func newCaptureSink() *captureSink {
	return &captureSink{ch: make(chan event.Envelope, 64)}
}

func (s *captureSink) ID() string { return "capture" }

func (s *captureSink) Send(env event.Envelope) error {
	s.ch <- env
	return nil
}

func (s *captureSink) next(t *testing.T) event.Envelope {
	t.Helper()
	select {
	case env := <-s.ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return event.Envelope{}
	}
}

func (s *captureSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case env := <-s.ch:
		t.Fatalf("unexpected envelope: %v", env.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func testVehicles() []vehicle.Vehicle {
	return []vehicle.Vehicle{
		{ID: "veh-1", Make: "Toyota", Model: "Camry", Year: 2021, VIN: "VIN00001", Status: vehicle.StatusAvailable, Price: 28000, Mileage: 12000},
		{ID: "veh-2", Make: "Honda", Model: "Civic", Year: 2019, VIN: "VIN00002", Status: vehicle.StatusReserved, Price: 21000, Mileage: 43000},
		{ID: "veh-3", Make: "Ford", Model: "F-150", Year: 2022, VIN: "VIN00003", Status: vehicle.StatusAvailable, Price: 45000, Mileage: 5000},
	}
}

func newTestService(t *testing.T) (*Service, *flakyStore, *captureSink) {
	t.Helper()

	live := &flakyStore{Store: memory.New()}
	live.Seed(testVehicles())

	pub := publish.New(nil, nil)
	sink := newCaptureSink()
	pub.Attach(sink)

	svc := NewService(Config{
		Live:      live,
		Publisher: pub,
	})
	return svc, live, sink
}

func TestServiceMutationsPublishExactlyOnce(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	v := &vehicle.Vehicle{Make: "Mazda", Model: "3", Year: 2023, VIN: "VIN00004", Status: vehicle.StatusAvailable, Price: 24000}
	require.NoError(t, svc.Create(ctx, v))
	env := sink.next(t)
	assert.Equal(t, event.KindEntityCreated, env.Kind)
	created, ok := env.Vehicle()
	require.True(t, ok)
	assert.Equal(t, v.ID, created.ID)

	v.Price = 23500
	require.NoError(t, svc.Update(ctx, v))
	assert.Equal(t, event.KindEntityUpdated, sink.next(t).Kind)

	_, err := svc.SetStatus(ctx, v.ID, vehicle.StatusSold, "cash sale")
	require.NoError(t, err)
	env = sink.next(t)
	assert.Equal(t, event.KindStatusChanged, env.Kind)
	change, ok := env.Payload.(event.StatusChange)
	require.True(t, ok)
	assert.Equal(t, vehicle.StatusSold, change.NewStatus)
	assert.Equal(t, "cash sale", change.Note)

	require.NoError(t, svc.Delete(ctx, v.ID))
	env = sink.next(t)
	assert.Equal(t, event.KindEntityDeleted, env.Kind)
	assert.Equal(t, event.Deleted{ID: v.ID}, env.Payload)

	// Exactly once: nothing beyond the four commit envelopes.
	sink.expectNone(t)
}

func TestServiceFailedMutationPublishesNothing(t *testing.T) {
	svc, _, sink := newTestService(t)
	ctx := context.Background()

	_, err := svc.SetStatus(ctx, "no-such-id", vehicle.StatusSold, "")
	require.ErrorIs(t, err, store.ErrNotFound)
	sink.expectNone(t)
}

func TestServiceRefreshBroadcastsBulkUpdate(t *testing.T) {
	svc, _, sink := newTestService(t)

	require.NoError(t, svc.Refresh(context.Background()))

	env := sink.next(t)
	require.Equal(t, event.KindBulkUpdate, env.Kind)
	bulk, ok := env.Payload.(event.BulkUpdate)
	require.True(t, ok)
	assert.Len(t, bulk.Vehicles, 3)
}

func TestServiceStickyFailover(t *testing.T) {
	svc, live, _ := newTestService(t)
	ctx := context.Background()

	// Healthy reads cache the live snapshot and stay on live.
	res, err := svc.List(ctx, query.Request{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, SourceLive, svc.Source())

	// First connectivity failure fails over to the fallback, seeded
	// with the cached snapshot.
	live.failing = true
	res, err = svc.List(ctx, query.Request{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, SourceFallback, svc.Source())

	// Sticky: live recovering does not switch the service back.
	live.failing = false
	_, err = svc.List(ctx, query.Request{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, svc.Source())

	// Mutations land on the fallback now.
	require.NoError(t, svc.Create(ctx, &vehicle.Vehicle{Make: "Kia", Model: "EV6", Year: 2024, VIN: "VIN00009", Status: vehicle.StatusAvailable}))
	liveSnap, err := live.Store.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, liveSnap, 3)
}

func TestServiceFallbackTakeover(t *testing.T) {
	svc, live, _ := newTestService(t)
	ctx := context.Background()

	live.failing = true

	// A create during the outage is served by the fallback with a
	// synthesized id, and shows up in the very next query.
	v := &vehicle.Vehicle{Make: "Rivian", Model: "R1T", Year: 2024, VIN: "VIN00099", Status: vehicle.StatusAvailable, Price: 72000}
	require.NoError(t, svc.Create(ctx, v))
	require.NotEmpty(t, v.ID)

	res, err := svc.List(ctx, query.Request{Search: "rivian", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	assert.Equal(t, v.ID, res.Items[0].ID)
}

func TestServiceQueryEquivalenceAcrossBackends(t *testing.T) {
	ctx := context.Background()
	req := query.Request{
		Status:   string(vehicle.StatusAvailable),
		SortBy:   "price",
		Page:     1,
		PageSize: 10,
	}

	svc, live, _ := newTestService(t)
	liveRes, err := svc.List(ctx, req)
	require.NoError(t, err)

	// Same request after failover must return the same result.
	live.failing = true
	fallbackRes, err := svc.List(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, liveRes, fallbackRes)
}

func TestServiceWithoutLiveStartsOnFallback(t *testing.T) {
	svc := NewService(Config{Seed: testVehicles()})

	assert.Equal(t, SourceFallback, svc.Source())
	res, err := svc.List(context.Background(), query.Request{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
}

func TestServiceInvalidQueryNotRetried(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.List(context.Background(), query.Request{Page: 0, PageSize: 10})
	var verr *query.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, SourceLive, svc.Source())
}
