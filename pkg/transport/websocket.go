package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// WebSocketAdapter speaks full duplex over a websocket. A single reader
// goroutine owns the connection's read side and feeds a bounded channel.
type WebSocketAdapter struct {
	endpoint string
	dialer   *websocket.Dialer

	conn    *websocket.Conn
	writeMu sync.Mutex

	incoming chan *protocol.Message
	readErr  error
	readOnce sync.Once
}

var _ Adapter = (*WebSocketAdapter)(nil)

// NewWebSocketAdapter creates an adapter for the given ws:// endpoint.
func NewWebSocketAdapter(endpoint string, dialer *websocket.Dialer) *WebSocketAdapter {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &WebSocketAdapter{
		endpoint: endpoint,
		dialer:   dialer,
		incoming: make(chan *protocol.Message, 100),
	}
}

// Connect dials the server and starts the reader.
func (a *WebSocketAdapter) Connect(ctx context.Context) error {
	conn, resp, err := a.dialer.DialContext(ctx, a.endpoint, nil)
	if err != nil {
		return errors.NewStreamError(fmt.Sprintf("failed to dial websocket: %v", err), err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	a.conn = conn

	go a.readLoop()
	return nil
}

func (a *WebSocketAdapter) readLoop() {
	defer close(a.incoming)
	for {
		var msg protocol.Message
		if err := a.conn.ReadJSON(&msg); err != nil {
			a.readOnce.Do(func() { a.readErr = err })
			return
		}
		if err := msg.Validate(); err != nil {
			logger.Warnw("dropping malformed websocket frame", "error", err)
			continue
		}
		a.incoming <- &msg
	}
}

// Send writes one message. Concurrent senders are serialized since the
// connection allows only one writer at a time.
func (a *WebSocketAdapter) Send(_ context.Context, msg *protocol.Message) error {
	if a.conn == nil {
		return errors.NewStreamError("adapter is not connected", nil)
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := a.conn.WriteJSON(msg); err != nil {
		return errors.NewStreamError(fmt.Sprintf("websocket write failed: %v", err), err)
	}
	return nil
}

// Receive blocks until the next message arrives.
func (a *WebSocketAdapter) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-a.incoming:
		if !ok {
			if a.readErr != nil {
				return nil, errors.NewStreamError(fmt.Sprintf("websocket read failed: %v", a.readErr), a.readErr)
			}
			return nil, errors.NewStreamError("websocket closed", nil)
		}
		return msg, nil
	}
}

// Capabilities reports full duplex.
func (*WebSocketAdapter) Capabilities() Capability {
	return Duplex
}

// Close closes the connection, which also stops the reader.
func (a *WebSocketAdapter) Close() error {
	if a.conn == nil {
		return nil
	}
	a.writeMu.Lock()
	// Best effort close frame before dropping the TCP side.
	_ = a.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.writeMu.Unlock()
	return a.conn.Close()
}
