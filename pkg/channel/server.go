// Package channel implements the push-channel transport: a WebSocket
// endpoint on the server side and a dialer for client subscription
// managers.
//
// Frames are one envelope each, JSON by default. Each accepted
// connection registers itself as a publisher sink; a per-connection
// write pump assigns monotonic sequence numbers so clients can detect
// dropped messages after a reconnect.
package channel

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lotwire/lotwire/internal/codec"
	"github.com/lotwire/lotwire/internal/rand"
	"github.com/lotwire/lotwire/pkg/event"
	"github.com/lotwire/lotwire/pkg/logger"
	"github.com/lotwire/lotwire/pkg/publish"
)

const (
	connIDLength     = 12
	defaultQueueSize = 64
)

// ErrSlowConsumer is returned by a connection sink when its send
// queue is full. The envelope is dropped for that connection only;
// the broadcast to other subscribers proceeds.
var ErrSlowConsumer = errors.New("send queue full, envelope dropped")

// ErrConnClosed is returned when an envelope is handed to a
// connection that has already been torn down.
var ErrConnClosed = errors.New("push channel connection closed")

// ServerConfig configures the push-channel endpoint.
type ServerConfig struct {
	// Publisher receives this server's connections as sinks.
	Publisher *publish.Publisher

	// OnRefreshRequest runs when a client sends
	// request_inventory_update. Typically Service.Refresh.
	OnRefreshRequest func(ctx context.Context)

	// Codec defaults to JSON. CBOR switches frames to binary.
	Codec codec.Codec

	// QueueSize is the per-connection send queue length.
	QueueSize int

	Logger logger.Logger
}

// Server upgrades HTTP requests to push-channel connections.
type Server struct {
	publisher *publish.Publisher
	onRefresh func(ctx context.Context)
	codec     codec.Codec
	msgType   int
	queueSize int
	logger    logger.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*serverConn
	closed bool
}

// NewServer creates the endpoint. The publisher is mandatory.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Publisher == nil {
		panic("channel: ServerConfig.Publisher is mandatory")
	}
	c := cfg.Codec
	if c == nil {
		c = codec.JSON{}
	}
	msgType := websocket.TextMessage
	if _, binary := c.(codec.CBOR); binary {
		msgType = websocket.BinaryMessage
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop
	}

	return &Server{
		publisher: cfg.Publisher,
		onRefresh: cfg.OnRefreshRequest,
		codec:     c,
		msgType:   msgType,
		queueSize: queueSize,
		logger:    log,
		upgrader: websocket.Upgrader{
			// The surrounding application authenticates upstream;
			// the channel accepts any origin it is handed.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*serverConn),
	}
}

// ServeHTTP upgrades the request and serves the connection until the
// peer disconnects or the server closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := &serverConn{
		id:     rand.String(connIDLength),
		ws:     ws,
		sendCh: make(chan event.Envelope, s.queueSize),
		done:   make(chan struct{}),
		server: s,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[conn.id] = conn
	s.mu.Unlock()

	s.publisher.Attach(conn)
	s.logger.Info("push channel connected", "conn_id", conn.id, "remote", r.RemoteAddr)

	go conn.writePump()
	conn.readLoop(r.Context())
}

// Close detaches and closes every connection. New upgrades are
// rejected afterwards.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*serverConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.teardown()
	}
}

func (s *Server) dropConn(c *serverConn) {
	s.mu.Lock()
	_, present := s.conns[c.id]
	delete(s.conns, c.id)
	s.mu.Unlock()

	if present {
		s.publisher.Detach(c.id)
		s.logger.Info("push channel disconnected", "conn_id", c.id)
	}
}

// serverConn is one subscriber connection. It implements
// publish.Sink; Send never blocks the broadcast.
type serverConn struct {
	id     string
	ws     *websocket.Conn
	sendCh chan event.Envelope
	done   chan struct{}
	server *Server

	closeOnce sync.Once
}

var _ publish.Sink = (*serverConn)(nil)

func (c *serverConn) ID() string { return c.id }

func (c *serverConn) Send(env event.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	case c.sendCh <- env:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// writePump serializes all writes for the connection and stamps each
// wire envelope with the connection's next sequence number.
func (c *serverConn) writePump() {
	var seq uint64
	for {
		select {
		case <-c.done:
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.ws.Close()
			return
		case env := <-c.sendCh:
			seq++
			env.Seq = seq

			data, err := event.Encode(c.server.codec, env)
			if err != nil {
				c.server.logger.Error("encoding envelope failed", "conn_id", c.id, "kind", env.Kind, "error", err)
				continue
			}
			if err := c.ws.WriteMessage(c.server.msgType, data); err != nil {
				c.server.logger.Warn("writing envelope failed", "conn_id", c.id, "error", err)
				c.teardown()
				_ = c.ws.Close()
				return
			}
		}
	}
}

// readLoop consumes client frames. The only application-level request
// a client may send is request_inventory_update.
func (c *serverConn) readLoop(ctx context.Context) {
	defer c.teardown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		env, err := event.Decode(c.server.codec, data)
		if err != nil {
			c.server.logger.Warn("discarding malformed client frame", "conn_id", c.id, "error", err)
			continue
		}

		if env.Kind == event.KindRequestInventoryUpdate {
			c.server.logger.Debug("inventory refresh requested", "conn_id", c.id)
			if c.server.onRefresh != nil {
				c.server.onRefresh(ctx)
			}
			continue
		}

		c.server.logger.Warn("unexpected client frame", "conn_id", c.id, "kind", env.Kind)
	}
}

// teardown detaches the connection from the publisher and stops the
// write pump. Safe to call from multiple paths.
func (c *serverConn) teardown() {
	c.closeOnce.Do(func() {
		c.server.dropConn(c)
		close(c.done)
	})
}
