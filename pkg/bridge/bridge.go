package bridge

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/mcpdock/mcpdock/pkg/backend"
	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// messageBuffer bounds the incoming frame channel so a slow consumer
// applies backpressure to the reader instead of growing without limit.
const messageBuffer = 100

// AttachFunc opens the compute unit's standard streams. The bridge calls it
// again after a stream drop.
type AttachFunc func(ctx context.Context) (backend.AttachStreams, error)

// Bridge relays JSON-RPC frames to and from one stdio compute unit. It
// reattaches with exponential backoff when the underlying streams drop and
// gives up with a stream error once the attempt budget is spent.
type Bridge struct {
	attach      AttachFunc
	maxAttempts int

	incoming chan *protocol.Message

	mu      sync.Mutex
	current *session

	started atomic.Bool
	closed  atomic.Bool
	quit    chan struct{}
	done    chan struct{}

	// callMu serializes request/response exchanges so concurrent callers
	// cannot consume each other's responses off the incoming channel.
	callMu sync.Mutex

	errMu    sync.Mutex
	finalErr error
}

// New creates a bridge over the given attach function. maxAttempts bounds
// reattachment after a drop; it includes the first retry.
func New(attach AttachFunc, maxAttempts int) *Bridge {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Bridge{
		attach:      attach,
		maxAttempts: maxAttempts,
		incoming:    make(chan *protocol.Message, messageBuffer),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start attaches to the unit and begins relaying frames. It returns once
// the initial attach succeeded; relaying continues until Close or an
// unrecoverable stream failure.
func (b *Bridge) Start(ctx context.Context) error {
	streams, err := b.attach(ctx)
	if err != nil {
		return errors.NewStreamError(fmt.Sprintf("failed to attach: %v", err), err)
	}
	b.swapSession(newSession(streams))

	b.started.Store(true)
	go b.run(ctx)
	return nil
}

// Send writes one frame to the unit's stdin.
func (b *Bridge) Send(msg *protocol.Message) error {
	if b.closed.Load() {
		return errors.NewStreamError("bridge is closed", nil)
	}

	b.mu.Lock()
	sess := b.current
	b.mu.Unlock()
	if sess == nil {
		return errors.NewStreamError("bridge is not attached", nil)
	}
	return sess.send(msg)
}

// Messages returns the channel of frames read from the unit's stdout. The
// channel closes when the bridge shuts down; check Err afterwards.
func (b *Bridge) Messages() <-chan *protocol.Message {
	return b.incoming
}

// Err reports the terminal error after Messages closed, nil on clean
// shutdown.
func (b *Bridge) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.finalErr
}

// Closed reports whether the bridge has shut down, either through Close or
// an exhausted reattach budget.
func (b *Bridge) Closed() bool {
	return b.closed.Load()
}

// Close shuts the bridge down and releases the streams.
func (b *Bridge) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.quit)
	b.mu.Lock()
	sess := b.current
	b.mu.Unlock()
	if sess != nil {
		sess.close()
	}
	if b.started.Load() {
		<-b.done
	}
}

// Call sends one frame and blocks until the response carrying its
// identifier arrives. Unrelated frames read in the meantime are dropped.
// Notifications return immediately with a nil response.
func (b *Bridge) Call(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	if err := b.Send(msg); err != nil {
		return nil, err
	}
	if msg.ID == nil {
		return nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, errors.NewStreamError("timed out waiting for response", ctx.Err())
		case resp, ok := <-b.incoming:
			if !ok {
				return nil, errors.NewStreamError("stream closed awaiting response", b.Err())
			}
			if !resp.IsResponse() || !sameID(resp.ID, msg.ID) {
				logger.Debugw("ignoring frame awaiting response", "method", resp.Method)
				continue
			}
			return resp, nil
		}
	}
}

// Handshake performs the MCP initialize exchange and reports success once
// the response with the matching identifier arrives. The first completed
// handshake is the readiness signal for stdio servers.
func (b *Bridge) Handshake(ctx context.Context, clientName, clientVersion string) (*protocol.Message, error) {
	b.callMu.Lock()
	defer b.callMu.Unlock()

	id := uuid.NewString()
	req, err := protocol.NewRequest("initialize", map[string]any{
		"protocolVersion": "2025-03-26",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": clientVersion,
		},
	}, id)
	if err != nil {
		return nil, errors.NewInternalError(fmt.Sprintf("failed to build initialize request: %v", err), err)
	}

	if err := b.Send(req); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, errors.NewReadinessTimeoutError("timed out waiting for initialize response", ctx.Err())
		case msg, ok := <-b.incoming:
			if !ok {
				return nil, errors.NewStreamError("stream closed during handshake", b.Err())
			}
			if !msg.IsResponse() || !sameID(msg.ID, id) {
				logger.Debugw("ignoring frame during handshake", "method", msg.Method)
				continue
			}
			if msg.Error != nil {
				return nil, errors.NewInternalError(
					fmt.Sprintf("server rejected initialize: %s", msg.Error.Message), nil)
			}

			if note, err := protocol.NewNotification("notifications/initialized", map[string]any{}); err == nil {
				if err := b.Send(note); err != nil {
					return nil, err
				}
			}
			return msg, nil
		}
	}
}

// run reads frames until the bridge closes, reattaching on stream drops.
func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	defer close(b.incoming)

	for {
		b.mu.Lock()
		sess := b.current
		b.mu.Unlock()

		go sess.drainStderr()
		err := sess.readFrames(b.incoming, b.quit)

		if b.closed.Load() || ctx.Err() != nil {
			return
		}
		if err != io.EOF {
			logger.Warnw("stream read failed", "error", err)
		}
		sess.close()

		if reattachErr := b.reattach(ctx); reattachErr != nil {
			b.setErr(errors.NewStreamError("reattach attempts exhausted", reattachErr))
			b.closed.Store(true)
			return
		}
	}
}

func (b *Bridge) reattach(ctx context.Context) error {
	streams, err := backoff.Retry(ctx, func() (backend.AttachStreams, error) {
		return b.attach(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(b.maxAttempts)),
		backoff.WithNotify(func(err error, duration time.Duration) {
			logger.Debugf("Reattach failed: %v. Retrying in %s...", err, duration)
		}),
	)
	if err != nil {
		return err
	}

	b.swapSession(newSession(streams))
	logger.Infow("stream reattached")
	return nil
}

func (b *Bridge) swapSession(sess *session) {
	b.mu.Lock()
	b.current = sess
	b.mu.Unlock()
}

func (b *Bridge) setErr(err error) {
	b.errMu.Lock()
	b.finalErr = err
	b.errMu.Unlock()
}

// sameID compares JSON-RPC identifiers across their decoded representations
// so a numeric identifier matches regardless of int or float64 decoding.
func sameID(a, c any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", c)
}
