// Package transport provides protocol adapters that move JSON-RPC messages
// over the transport variants a server may speak. Every adapter preserves
// message identifiers byte for byte; nothing is ever re-minted in flight.
package transport

import (
	"context"

	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// Capability describes which directions an adapter supports.
type Capability uint8

const (
	// CanSend means the adapter can push messages to the server
	CanSend Capability = 1 << iota
	// CanReceive means the adapter can consume messages from the server
	CanReceive
)

// Duplex adapters support both directions.
const Duplex = CanSend | CanReceive

// Has reports whether the capability set includes all of want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// Adapter is the uniform message-passing contract over one transport
// variant. Operations outside the adapter's capability set fail with
// unsupported_operation.
type Adapter interface {
	// Connect establishes the underlying channel.
	Connect(ctx context.Context) error

	// Send pushes one message to the server.
	Send(ctx context.Context, msg *protocol.Message) error

	// Receive blocks until the next message from the server arrives.
	Receive(ctx context.Context) (*protocol.Message, error)

	// Capabilities returns the directions this adapter supports.
	Capabilities() Capability

	// Close releases the underlying channel.
	Close() error
}
