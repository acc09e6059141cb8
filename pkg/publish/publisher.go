// Package publish implements the server-side fan-out of inventory
// events to connected push-channel subscribers.
//
// The delivery path is single-writer-fan-out: one Publisher emits,
// any number of attached sinks receive independently. All delivery
// runs on one long-lived goroutine consuming an ordered queue, so
// sequential publishes reach every sink in emission order. A failing
// sink never blocks or fails delivery to the others, and publishing
// with no sinks attached is a safe no-op, so mutation success can
// never depend on push-channel availability.
package publish

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/logger"
)

// queueDepth bounds the delivery backlog. A caller publishing into a
// full queue blocks until the delivery goroutine catches up; dropping
// or reordering instead would break the emission-order contract.
const queueDepth = 256

// Sink receives envelopes for one subscriber connection. Send must
// not block indefinitely; slow consumers are expected to shed load
// themselves (the channel server drops frames on a full send queue).
type Sink interface {
	// ID identifies the sink in logs and error isolation.
	ID() string
	Send(env event.Envelope) error
}

// Metrics holds the publisher's instrumentation. All fields are
// optional; a nil Metrics disables instrumentation entirely.
type Metrics struct {
	Published      prometheus.Counter
	DeliveryErrors prometheus.Counter
	Subscribers    prometheus.Gauge
}

// NewMetrics builds the publisher metric set and registers it.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lotwire_envelopes_published_total",
			Help: "Envelopes handed to the fan-out path.",
		}),
		DeliveryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lotwire_delivery_errors_total",
			Help: "Per-subscriber send failures, isolated from the broadcast.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lotwire_subscribers",
			Help: "Currently attached push-channel subscribers.",
		}),
	}
	reg.MustRegister(m.Published, m.DeliveryErrors, m.Subscribers)
	return m
}

// Publisher fans envelopes out to all attached sinks.
type Publisher struct {
	mu    sync.RWMutex
	sinks map[string]Sink

	queue  chan event.Envelope
	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool

	logger  logger.Logger
	metrics *Metrics
}

// New creates a Publisher and starts its delivery goroutine. metrics
// may be nil.
func New(log logger.Logger, metrics *Metrics) *Publisher {
	if log == nil {
		log = logger.Nop
	}
	p := &Publisher{
		sinks:   make(map[string]Sink),
		queue:   make(chan event.Envelope, queueDepth),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  log,
		metrics: metrics,
	}
	go p.deliver()
	return p
}

// Attach registers a sink. It is safe to call while a broadcast is in
// progress; the sink starts receiving from the next envelope.
func (p *Publisher) Attach(s Sink) {
	p.mu.Lock()
	p.sinks[s.ID()] = s
	n := len(p.sinks)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.Subscribers.Set(float64(n))
	}
	p.logger.Debug("subscriber attached", "sink_id", s.ID(), "subscribers", n)
}

// Detach removes a sink. Removing an unknown sink is a no-op. An
// in-progress broadcast may still deliver one last envelope to the
// detached sink; it will never receive another afterwards.
func (p *Publisher) Detach(id string) {
	p.mu.Lock()
	delete(p.sinks, id)
	n := len(p.sinks)
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.Subscribers.Set(float64(n))
	}
	p.logger.Debug("subscriber detached", "sink_id", id, "subscribers", n)
}

// SubscriberCount returns the number of attached sinks.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sinks)
}

// Publish enqueues the envelope for fan-out to every attached sink.
//
// It is called synchronously after a mutation's storage commit, but
// the caller never waits on delivery: envelopes are handed to the
// delivery goroutine, which sends them to each sink in emission
// order. The caller blocks only if the delivery backlog is full.
func (p *Publisher) Publish(env event.Envelope) {
	if p.closed.Load() {
		return
	}
	if p.metrics != nil {
		p.metrics.Published.Inc()
	}

	select {
	case p.queue <- env:
	case <-p.quit:
	}
}

// deliver is the single fan-out goroutine. One goroutine consuming
// one queue is what makes emission order and per-sink arrival order
// the same thing.
func (p *Publisher) deliver() {
	defer close(p.done)
	for {
		select {
		case env := <-p.queue:
			p.fanOut(env)
		case <-p.quit:
			// Drain what was accepted before Close.
			for {
				select {
				case env := <-p.queue:
					p.fanOut(env)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) fanOut(env event.Envelope) {
	// Copy-on-broadcast: iterate over a snapshot of the registry so
	// sinks can attach and detach while delivery is in progress.
	p.mu.RLock()
	targets := make([]Sink, 0, len(p.sinks))
	for _, s := range p.sinks {
		targets = append(targets, s)
	}
	p.mu.RUnlock()

	for _, s := range targets {
		if err := s.Send(env); err != nil {
			if p.metrics != nil {
				p.metrics.DeliveryErrors.Inc()
			}
			p.logger.Warn("delivery to subscriber failed",
				"sink_id", s.ID(), "kind", env.Kind, "error", err)
		}
	}
}

// Close stops accepting publishes, delivers whatever is already
// queued, and waits for the delivery goroutine to exit. Attached
// sinks are not closed; their owners tear them down.
func (p *Publisher) Close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.quit)
	<-p.done

	p.mu.Lock()
	p.sinks = make(map[string]Sink)
	p.mu.Unlock()
}
