package channel

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/lotwire/lotwire/internal/codec"
	"github.com/lotwire/lotwire/pkg/event"
)

// ClientConn is one client-side push-channel connection. It satisfies
// the subscription manager's Transport contract.
type ClientConn struct {
	ws      *websocket.Conn
	codec   codec.Codec
	msgType int
}

// Dialer opens push-channel connections. The zero value dials with
// gorilla's defaults and the JSON codec.
type Dialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// Codec defaults to JSON.
	Codec codec.Codec
}

// Dial opens one connection. The subscription manager calls this for
// the initial connect and again for every reconnection attempt.
func (d *Dialer) Dial(ctx context.Context) (*ClientConn, error) {
	c := d.Codec
	if c == nil {
		c = codec.JSON{}
	}
	msgType := websocket.TextMessage
	if _, binary := c.(codec.CBOR); binary {
		msgType = websocket.BinaryMessage
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("channel: dialing %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	return &ClientConn{ws: ws, codec: c, msgType: msgType}, nil
}

// Read blocks until the next envelope arrives or the connection
// drops.
func (c *ClientConn) Read() (event.Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return event.Envelope{}, fmt.Errorf("channel: reading envelope: %w", err)
	}
	return event.Decode(c.codec, data)
}

// Send transmits a client->server frame, e.g.
// request_inventory_update.
func (c *ClientConn) Send(env event.Envelope) error {
	data, err := event.Encode(c.codec, env)
	if err != nil {
		return fmt.Errorf("channel: encoding client frame: %w", err)
	}
	if err := c.ws.WriteMessage(c.msgType, data); err != nil {
		return fmt.Errorf("channel: writing client frame: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *ClientConn) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}
