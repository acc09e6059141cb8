package channel_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotwire/lotwire/internal/codec"
	"github.com/lotwire/lotwire/pkg/channel"
	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/publish"
	"github.com/lotwire/lotwire/pkg/subscribe"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

type fixture struct {
	publisher *publish.Publisher
	server    *channel.Server
	url       string
}

func newFixture(t *testing.T, cfg channel.ServerConfig) *fixture {
	t.Helper()

	pub := publish.New(nil, nil)
	cfg.Publisher = pub
	srv := channel.NewServer(cfg)

	httpSrv := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Close()
		httpSrv.Close()
		pub.Close()
	})

	return &fixture{
		publisher: pub,
		server:    srv,
		url:       "ws" + strings.TrimPrefix(httpSrv.URL, "http"),
	}
}

// newManager connects a subscription manager through a real websocket
// to the fixture's server.
func newManager(t *testing.T, f *fixture, c codec.Codec) *subscribe.Manager {
	t.Helper()

	dialer := &channel.Dialer{URL: f.url, Codec: c}
	m := subscribe.New(subscribe.Config{
		NewFunc: func(ctx context.Context) (subscribe.Transport, error) {
			return dialer.Dial(ctx)
		},
		Retryer: &subscribe.FixedDelay{Delay: 10 * time.Millisecond, MaxRetries: 3},
	})
	t.Cleanup(func() { _ = m.Close() })
	return m
}

type envelopeRecorder struct {
	mu   sync.Mutex
	envs []event.Envelope
}

func (r *envelopeRecorder) record(env event.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
}

func (r *envelopeRecorder) snapshot() []event.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Envelope, len(r.envs))
	copy(out, r.envs)
	return out
}

func (r *envelopeRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func TestBroadcastReachesSubscriber(t *testing.T) {
	f := newFixture(t, channel.ServerConfig{})

	m := newManager(t, f, nil)
	rec := &envelopeRecorder{}
	m.Subscribe(event.KindEntityCreated, rec.record)
	m.Subscribe(event.KindStatusChanged, rec.record)
	require.NoError(t, m.Connect(context.Background()))

	// The sink attaches during the websocket upgrade; wait for it.
	require.Eventually(t, func() bool {
		return f.publisher.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.publisher.Publish(event.Created(vehicle.Vehicle{ID: "veh-1", Make: "Toyota", Model: "Camry"}))
	f.publisher.Publish(event.StatusChanged("veh-1", vehicle.StatusSold, "auction"))

	require.Eventually(t, func() bool {
		return rec.len() == 2
	}, time.Second, 5*time.Millisecond)

	envs := rec.snapshot()
	assert.Equal(t, event.KindEntityCreated, envs[0].Kind)
	assert.Equal(t, event.KindStatusChanged, envs[1].Kind)

	// Wire sequence numbers are per connection and monotonic.
	assert.Equal(t, uint64(1), envs[0].Seq)
	assert.Equal(t, uint64(2), envs[1].Seq)

	created, ok := envs[0].Vehicle()
	require.True(t, ok)
	assert.Equal(t, "Camry", created.Model)
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	f := newFixture(t, channel.ServerConfig{})

	recs := make([]*envelopeRecorder, 3)
	for i := range recs {
		recs[i] = &envelopeRecorder{}
		m := newManager(t, f, nil)
		m.Subscribe(event.KindEntityDeleted, recs[i].record)
		require.NoError(t, m.Connect(context.Background()))
	}

	require.Eventually(t, func() bool {
		return f.publisher.SubscriberCount() == 3
	}, time.Second, 5*time.Millisecond)

	f.publisher.Publish(event.Removed("veh-9"))

	for i, rec := range recs {
		rec := rec
		require.Eventually(t, func() bool {
			return rec.len() == 1
		}, time.Second, 5*time.Millisecond, "subscriber %d", i)
		assert.Equal(t, event.Deleted{ID: "veh-9"}, rec.snapshot()[0].Payload)
	}
}

func TestRefreshRequestRoundTrip(t *testing.T) {
	var f *fixture
	f = newFixture(t, channel.ServerConfig{
		OnRefreshRequest: func(ctx context.Context) {
			f.publisher.Publish(event.Refreshed([]vehicle.Vehicle{
				{ID: "veh-1", Make: "Toyota"},
				{ID: "veh-2", Make: "Honda"},
			}))
		},
	})

	m := newManager(t, f, nil)
	rec := &envelopeRecorder{}
	m.Subscribe(event.KindBulkUpdate, rec.record)
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return f.publisher.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.RequestRefresh())

	require.Eventually(t, func() bool {
		return rec.len() == 1
	}, time.Second, 5*time.Millisecond)

	bulk, ok := rec.snapshot()[0].Payload.(event.BulkUpdate)
	require.True(t, ok)
	assert.Len(t, bulk.Vehicles, 2)
}

func TestCBORFrames(t *testing.T) {
	f := newFixture(t, channel.ServerConfig{Codec: codec.CBOR{}})

	m := newManager(t, f, codec.CBOR{})
	rec := &envelopeRecorder{}
	m.Subscribe(event.KindEntityCreated, rec.record)
	require.NoError(t, m.Connect(context.Background()))

	require.Eventually(t, func() bool {
		return f.publisher.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.publisher.Publish(event.Created(vehicle.Vehicle{ID: "veh-1", VIN: "VIN00001", Year: 2021}))

	require.Eventually(t, func() bool {
		return rec.len() == 1
	}, time.Second, 5*time.Millisecond)

	created, ok := rec.snapshot()[0].Vehicle()
	require.True(t, ok)
	assert.Equal(t, "VIN00001", created.VIN)
	assert.Equal(t, 2021, created.Year)
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	f := newFixture(t, channel.ServerConfig{})

	dialer := &channel.Dialer{URL: f.url}
	conn, err := dialer.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return f.publisher.SubscriberCount() == 1
	}, time.Second, 5*time.Millisecond)

	f.server.Close()

	_, err = conn.Read()
	require.Error(t, err)
	assert.Eventually(t, func() bool {
		return f.publisher.SubscriberCount() == 0
	}, time.Second, 5*time.Millisecond)
}
