package publish_test

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/logger"
	"github.com/lotwire/lotwire/pkg/publish"
	"github.com/lotwire/lotwire/pkg/vehicle"
)

type recordingSink struct {
	id   string
	mu   sync.Mutex
	got  []event.Envelope
	err  error
	done chan struct{}
}

func newRecordingSink(id string) *recordingSink {
	return &recordingSink{id: id, done: make(chan struct{}, 16)}
}

func (s *recordingSink) ID() string { return s.id }

func (s *recordingSink) Send(env event.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		s.done <- struct{}{}
		return s.err
	}
	s.got = append(s.got, env)
	s.done <- struct{}{}
	return nil
}

func (s *recordingSink) envelopes() []event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]event.Envelope, len(s.got))
	copy(out, s.got)
	return out
}

func waitFor(t *testing.T, s *recordingSink) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sink %s never received an envelope", s.id)
	}
}

func TestPublishFansOutToAllSinks(t *testing.T) {
	p := publish.New(logger.Nop, nil)
	defer p.Close()

	a := newRecordingSink("a")
	b := newRecordingSink("b")
	p.Attach(a)
	p.Attach(b)

	env := event.Created(vehicle.Vehicle{ID: "v1", Make: "Toyota"})
	p.Publish(env)

	waitFor(t, a)
	waitFor(t, b)

	require.Len(t, a.envelopes(), 1)
	require.Len(t, b.envelopes(), 1)
	assert.Equal(t, env, a.envelopes()[0])
	assert.Equal(t, env, b.envelopes()[0])
}

// orderSink records the numeric IDs of delivered envelopes.
type orderSink struct {
	id  string
	mu  sync.Mutex
	ids []int
}

func (s *orderSink) ID() string { return s.id }

func (s *orderSink) Send(env event.Envelope) error {
	n, err := strconv.Atoi(env.Payload.(event.Deleted).ID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ids = append(s.ids, n)
	s.mu.Unlock()
	return nil
}

func (s *orderSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *orderSink) snapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.ids))
	copy(out, s.ids)
	return out
}

func TestSequentialPublishesArriveInOrder(t *testing.T) {
	p := publish.New(logger.Nop, nil)
	defer p.Close()

	a := &orderSink{id: "a"}
	b := &orderSink{id: "b"}
	p.Attach(a)
	p.Attach(b)

	const n = 2000
	for i := 0; i < n; i++ {
		p.Publish(event.Removed(strconv.Itoa(i)))
	}

	// Every sink must observe the exact emission order; a single
	// inversion means two publishes raced into the delivery path.
	for _, s := range []*orderSink{a, b} {
		require.Eventually(t, func() bool {
			return s.len() == n
		}, 5*time.Second, 5*time.Millisecond, "sink %s", s.id)

		ids := s.snapshot()
		for i, id := range ids {
			if id != i {
				t.Fatalf("sink %s: emission order violated at position %d: got %d", s.id, i, id)
			}
		}
	}
}

func TestCloseDeliversQueuedEnvelopes(t *testing.T) {
	p := publish.New(logger.Nop, nil)

	a := &orderSink{id: "a"}
	p.Attach(a)

	const n = 100
	for i := 0; i < n; i++ {
		p.Publish(event.Removed(strconv.Itoa(i)))
	}
	p.Close()

	// Close drains the accepted backlog before returning.
	assert.Equal(t, n, a.len())
}

func TestPublishWithNoSinksIsANoop(t *testing.T) {
	p := publish.New(logger.Nop, nil)
	defer p.Close()

	// Must not panic or block.
	p.Publish(event.Removed("v1"))
}

func TestFailingSinkDoesNotAbortBroadcast(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := publish.NewMetrics(reg)

	p := publish.New(logger.Nop, metrics)
	defer p.Close()

	bad := newRecordingSink("bad")
	bad.err = errors.New("connection reset")
	good := newRecordingSink("good")
	p.Attach(bad)
	p.Attach(good)

	p.Publish(event.Removed("v1"))

	waitFor(t, bad)
	waitFor(t, good)

	assert.Empty(t, bad.envelopes())
	require.Len(t, good.envelopes(), 1)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DeliveryErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Published))
}

func TestDetachDuringBroadcastIsSafe(t *testing.T) {
	p := publish.New(logger.Nop, nil)
	defer p.Close()

	a := newRecordingSink("a")
	p.Attach(a)

	// Detach concurrently with a burst of publishes; the registry
	// snapshot must keep this race benign.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			p.Publish(event.Removed("v1"))
		}
	}()
	p.Detach("a")
	wg.Wait()
	p.Close()

	// No envelope may arrive after Close returned.
	n := len(a.envelopes())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, len(a.envelopes()))
}

func TestSubscriberGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := publish.NewMetrics(reg)

	p := publish.New(logger.Nop, metrics)
	defer p.Close()

	p.Attach(newRecordingSink("a"))
	p.Attach(newRecordingSink("b"))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Subscribers))
	assert.Equal(t, 2, p.SubscriberCount())

	p.Detach("a")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Subscribers))
}

func TestPublishAfterCloseIsANoop(t *testing.T) {
	p := publish.New(logger.Nop, nil)

	a := newRecordingSink("a")
	p.Attach(a)
	p.Close()

	p.Publish(event.Removed("v1"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, a.envelopes())
}
