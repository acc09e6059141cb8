// Package subscribe implements the client side of the push channel:
// one logical connection, a typed subscribe/unsubscribe API per event
// kind, and reconnect with bounded exponential backoff.
//
// Dispatch preserves per-connection ordering: every callback for one
// envelope runs to completion before the next envelope is dispatched.
// Callbacks therefore must not perform long synchronous work; heavier
// reactions (a re-query, say) belong on their own goroutine.
package subscribe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/logger"
)

// ErrClosed is returned by operations on a manager that was closed.
var ErrClosed = errors.New("subscription manager closed")

// ErrNotConnected is returned by operations that need a live
// connection while the manager is between connections.
var ErrNotConnected = errors.New("push channel not connected")

// ErrUnreachable is returned when the retry policy has given up.
var ErrUnreachable = errors.New("push channel unreachable, retries exhausted")

// Transport is one live push-channel connection. The manager creates
// a fresh Transport per (re)connection attempt via Config.NewFunc.
type Transport interface {
	// Read blocks until the next envelope or a connection drop.
	Read() (event.Envelope, error)
	// Send transmits a client->server frame.
	Send(env event.Envelope) error
	Close() error
}

// Callback handles one envelope. It runs on the manager's dispatch
// goroutine.
type Callback func(env event.Envelope)

// Config configures a Manager.
type Config struct {
	// NewFunc opens a transport. Called for the initial Connect and
	// again for every reconnection attempt. Mandatory.
	NewFunc func(ctx context.Context) (Transport, error)

	// Retryer is the reconnect policy. Defaults to
	// NewExponentialBackoff.
	Retryer Retryer

	// OnGap runs when sequence numbers reveal dropped envelopes,
	// typically after a reconnect. The argument is the number of
	// missed envelopes. Optional.
	OnGap func(missed uint64)

	Logger logger.Logger
}

type subscription struct {
	id uint64
	fn Callback
}

// Manager owns one logical connection to the push channel.
type Manager struct {
	newFunc func(ctx context.Context) (Transport, error)
	retryer Retryer
	onGap   func(missed uint64)
	logger  logger.Logger

	stateMu sync.Mutex
	state   State

	subsMu    sync.RWMutex
	subs      map[event.Kind][]subscription
	nextSubID uint64

	transportMu sync.Mutex
	transport   Transport

	closeCh chan struct{}
	wg      sync.WaitGroup

	// lastSeq is the last wire sequence number seen on the current
	// connection. setTransport zeroes it before the goroutine that
	// owns the connection starts reading (goroutine start on the
	// initial connect, the reconnect loop itself afterwards); from
	// then on only that goroutine touches it.
	lastSeq uint64
}

// New creates a disconnected Manager.
func New(cfg Config) *Manager {
	if cfg.NewFunc == nil {
		panic("subscribe: Config.NewFunc is mandatory")
	}
	retryer := cfg.Retryer
	if retryer == nil {
		retryer = NewExponentialBackoff()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop
	}

	return &Manager{
		newFunc: cfg.NewFunc,
		retryer: retryer,
		onGap:   cfg.OnGap,
		logger:  log,
		state:   StateDisconnected,
		subs:    make(map[event.Kind][]subscription),
		closeCh: make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state
}

func (m *Manager) transitionTo(newState State) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if err := m.state.validateTransitionTo(newState); err != nil {
		return err
	}
	m.state = newState
	m.logger.Debug("subscription manager state changed", "new_state", newState)
	return nil
}

// Subscribe registers a callback for one event kind. Multiple
// callbacks per kind all run, in registration order, for each
// matching envelope.
//
// The returned function removes exactly this registration and is
// idempotent: calling it twice is a no-op, not an error.
func (m *Manager) Subscribe(kind event.Kind, fn Callback) func() {
	m.subsMu.Lock()
	m.nextSubID++
	id := m.nextSubID
	m.subs[kind] = append(m.subs[kind], subscription{id: id, fn: fn})
	m.subsMu.Unlock()

	return func() {
		m.subsMu.Lock()
		defer m.subsMu.Unlock()

		subs := m.subs[kind]
		for i, sub := range subs {
			if sub.id == id {
				m.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Connect starts the read/reconnect loop. It returns once the
// connection attempt has been made; an initial failure is not an
// error. It is handed to the same bounded-backoff retry loop that
// handles mid-session drops, so a server that is briefly down at
// startup is caught up with as soon as it comes back. Callers that
// need to know when the channel is live subscribe to the connected
// pseudo-event; exhaustion of the retry policy surfaces as the
// unreachable pseudo-event.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.transitionTo(StateConnecting); err != nil {
		return err
	}

	t, err := m.newFunc(ctx)
	if err != nil {
		m.logger.Warn("initial connect failed, retrying with backoff", "error", err)
		if stateErr := m.transitionTo(StateDisconnected); stateErr != nil {
			m.logger.Error("BUG: failed to transition to disconnected state", "error", stateErr)
		}
		m.wg.Add(1)
		go m.retryThenRun()
		return nil
	}

	m.setTransport(t)
	if err := m.transitionTo(StateConnected); err != nil {
		panic(fmt.Sprintf("BUG: failed to transition to connected state: %v", err))
	}
	m.retryer.Reset()
	m.dispatch(event.Pseudo(event.KindConnected))

	m.wg.Add(1)
	go m.run(t)

	return nil
}

// RequestRefresh asks the server for an out-of-band bulk_update
// broadcast. It returns ErrNotConnected between connections and
// ErrClosed once the manager is shut down.
func (m *Manager) RequestRefresh() error {
	switch m.State() {
	case StateClosing, StateClosed:
		return ErrClosed
	}

	m.transportMu.Lock()
	t := m.transport
	m.transportMu.Unlock()

	if t == nil {
		return ErrNotConnected
	}
	return t.Send(event.Pseudo(event.KindRequestInventoryUpdate))
}

// Close tears the manager down: the reconnect loop and any pending
// backoff timer are cancelled, the transport is closed, and all
// subscriptions are cleared. Once Close returns, no callback will be
// invoked again, even for an envelope that was already in flight.
func (m *Manager) Close() error {
	if err := m.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("subscribe: already closing or closed: %w", err)
	}

	close(m.closeCh)

	m.transportMu.Lock()
	t := m.transport
	m.transport = nil
	m.transportMu.Unlock()
	if t != nil {
		_ = t.Close()
	}

	// The run goroutine performs all dispatching, so waiting for it
	// is what guarantees no callback runs after Close returns.
	m.wg.Wait()

	m.subsMu.Lock()
	m.subs = make(map[event.Kind][]subscription)
	m.subsMu.Unlock()

	if err := m.transitionTo(StateClosed); err != nil {
		m.logger.Error("BUG: failed to transition to closed state", "error", err)
	}
	return nil
}

func (m *Manager) setTransport(t Transport) {
	m.transportMu.Lock()
	m.transport = t
	m.transportMu.Unlock()
	m.lastSeq = 0
}

// dropTransport forgets t so client frames are not handed to a dead
// connection between reconnect attempts.
func (m *Manager) dropTransport(t Transport) {
	m.transportMu.Lock()
	if m.transport == t {
		m.transport = nil
	}
	m.transportMu.Unlock()
}

func (m *Manager) closed() bool {
	select {
	case <-m.closeCh:
		return true
	default:
		return false
	}
}

// run owns the connection for its whole life: it reads and dispatches
// envelopes until the connection drops, then drives reconnection.
func (m *Manager) run(t Transport) {
	defer m.wg.Done()
	m.loop(t)
}

// retryThenRun is run's entry point when the initial dial failed: it
// drives reconnection first and hands the resulting connection to the
// same loop.
func (m *Manager) retryThenRun() {
	defer m.wg.Done()

	t, ok := m.reconnect()
	if !ok {
		return
	}
	m.loop(t)
}

func (m *Manager) loop(t Transport) {
	for {
		err := m.readLoop(t)
		if m.closed() {
			return
		}

		m.logger.Info("push channel connection lost", "error", err)
		m.dropTransport(t)
		if stateErr := m.transitionTo(StateDisconnected); stateErr != nil {
			m.logger.Error("BUG: failed to transition to disconnected state", "error", stateErr)
		}
		m.dispatch(event.Pseudo(event.KindDisconnected))

		next, ok := m.reconnect()
		if !ok {
			return
		}
		t = next
	}
}

// readLoop dispatches envelopes until the transport errors.
func (m *Manager) readLoop(t Transport) error {
	for {
		env, err := t.Read()
		if err != nil {
			return err
		}
		if m.closed() {
			return nil
		}

		m.trackSeq(env.Seq)
		m.dispatch(env)
	}
}

// trackSeq watches wire sequence numbers for evidence of dropped
// envelopes. Delivery remains at-most-once; gaps are reported, not
// repaired.
func (m *Manager) trackSeq(seq uint64) {
	if seq == 0 {
		return
	}
	if m.lastSeq != 0 && seq > m.lastSeq+1 {
		missed := seq - m.lastSeq - 1
		m.logger.Warn("envelope gap detected", "missed", missed, "last_seq", m.lastSeq, "seq", seq)
		if m.onGap != nil {
			m.onGap(missed)
		}
	}
	m.lastSeq = seq
}

// reconnect retries until a connection is established, the retry
// policy gives up, or the manager is closed.
func (m *Manager) reconnect() (Transport, bool) {
	for attempt := 0; ; attempt++ {
		delay, retry := m.retryer.NextDelay(attempt, nil)
		if !retry {
			m.logger.Error("push channel retries exhausted", "attempts", attempt)
			if err := m.transitionTo(StateUnreachable); err != nil {
				m.logger.Error("BUG: failed to transition to unreachable state", "error", err)
			}
			m.dispatch(event.Pseudo(event.KindUnreachable))
			return nil, false
		}

		timer := time.NewTimer(delay)
		select {
		case <-m.closeCh:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		if err := m.transitionTo(StateConnecting); err != nil {
			m.logger.Error("BUG: failed to transition to connecting state", "error", err)
			return nil, false
		}

		t, err := m.newFunc(context.Background())
		if err != nil {
			m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			if stateErr := m.transitionTo(StateDisconnected); stateErr != nil {
				m.logger.Error("BUG: failed to transition to disconnected state", "error", stateErr)
			}
			continue
		}

		if m.closed() {
			_ = t.Close()
			return nil, false
		}

		m.setTransport(t)
		if err := m.transitionTo(StateConnected); err != nil {
			m.logger.Error("BUG: failed to transition to connected state", "error", err)
			_ = t.Close()
			return nil, false
		}
		m.retryer.Reset()
		m.logger.Info("push channel reconnected", "attempts", attempt+1)
		m.dispatch(event.Pseudo(event.KindConnected))
		return t, true
	}
}

// dispatch runs every callback registered for the envelope's kind, in
// registration order. A panicking callback is contained: it is logged
// and the remaining callbacks still run.
func (m *Manager) dispatch(env event.Envelope) {
	m.subsMu.RLock()
	subs := make([]subscription, len(m.subs[env.Kind]))
	copy(subs, m.subs[env.Kind])
	m.subsMu.RUnlock()

	for _, sub := range subs {
		m.invoke(sub, env)
	}
}

func (m *Manager) invoke(sub subscription, env event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber callback panicked", "kind", env.Kind, "panic", r)
		}
	}()
	sub.fn(env)
}
