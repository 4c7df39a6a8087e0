package transport

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/logger"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// SSEAdapter consumes a server-push event stream. The server owns the
// connection direction; Send is not part of this variant.
type SSEAdapter struct {
	endpoint string
	client   *http.Client

	resp    *http.Response
	scanner *bufio.Scanner
}

var _ Adapter = (*SSEAdapter)(nil)

// NewSSEAdapter creates an adapter for the given event stream endpoint.
func NewSSEAdapter(endpoint string, client *http.Client) *SSEAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &SSEAdapter{endpoint: endpoint, client: client}
}

// Connect opens the long-lived event stream.
func (a *SSEAdapter) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint, nil)
	if err != nil {
		return errors.NewStreamError(fmt.Sprintf("failed to build stream request: %v", err), err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return errors.NewStreamError(fmt.Sprintf("failed to open event stream: %v", err), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return errors.NewStreamError(fmt.Sprintf("event stream returned status %d", resp.StatusCode), nil)
	}

	a.resp = resp
	a.scanner = bufio.NewScanner(resp.Body)
	a.scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return nil
}

// Send is not available on a server-push stream.
func (*SSEAdapter) Send(_ context.Context, _ *protocol.Message) error {
	return errors.NewUnsupportedOperationError("sse transport cannot send to the server", nil)
}

// Receive blocks until the next data event carrying a valid frame arrives.
func (a *SSEAdapter) Receive(_ context.Context) (*protocol.Message, error) {
	if a.scanner == nil {
		return nil, errors.NewStreamError("adapter is not connected", nil)
	}

	for a.scanner.Scan() {
		line := a.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Comments, event names and blank keep-alive lines.
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}

		msg, err := protocol.DecodeFrame([]byte(data))
		if err != nil {
			logger.Warnw("dropping malformed event", "error", err)
			continue
		}
		return msg, nil
	}

	if err := a.scanner.Err(); err != nil {
		return nil, errors.NewStreamError(fmt.Sprintf("event stream failed: %v", err), err)
	}
	return nil, errors.NewStreamError("event stream closed", nil)
}

// Capabilities reports receive-only.
func (*SSEAdapter) Capabilities() Capability {
	return CanReceive
}

// Close tears the stream down.
func (a *SSEAdapter) Close() error {
	if a.resp != nil {
		return a.resp.Body.Close()
	}
	return nil
}
