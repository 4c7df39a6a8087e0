package transport

import (
	"context"

	"github.com/mcpdock/mcpdock/pkg/bridge"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// StdioAdapter speaks to a server over its attached standard streams
// through a stream bridge.
type StdioAdapter struct {
	bridge *bridge.Bridge
}

var _ Adapter = (*StdioAdapter)(nil)

// NewStdioAdapter wraps an existing bridge. The caller keeps ownership of
// the bridge's lifecycle until Connect succeeds.
func NewStdioAdapter(b *bridge.Bridge) *StdioAdapter {
	return &StdioAdapter{bridge: b}
}

// Connect starts the underlying bridge.
func (a *StdioAdapter) Connect(ctx context.Context) error {
	return a.bridge.Start(ctx)
}

// Send writes one message to the server's stdin.
func (a *StdioAdapter) Send(_ context.Context, msg *protocol.Message) error {
	return a.bridge.Send(msg)
}

// Receive blocks until the server writes the next frame.
func (a *StdioAdapter) Receive(ctx context.Context) (*protocol.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-a.bridge.Messages():
		if !ok {
			if err := a.bridge.Err(); err != nil {
				return nil, err
			}
			return nil, errors.NewStreamError("stream closed", nil)
		}
		return msg, nil
	}
}

// Capabilities reports full duplex.
func (*StdioAdapter) Capabilities() Capability {
	return Duplex
}

// Close shuts the bridge down.
func (a *StdioAdapter) Close() error {
	a.bridge.Close()
	return nil
}
