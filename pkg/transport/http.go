package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/mcpdock/mcpdock/pkg/errors"
	"github.com/mcpdock/mcpdock/pkg/protocol"
)

// HTTPAdapter speaks plain request/response. Send stages a message and
// Receive performs the round-trip, since HTTP has no server push path.
type HTTPAdapter struct {
	endpoint string
	client   *http.Client

	mu      sync.Mutex
	pending *protocol.Message
}

var _ Adapter = (*HTTPAdapter)(nil)

// NewHTTPAdapter creates an adapter for the given endpoint.
func NewHTTPAdapter(endpoint string, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAdapter{endpoint: endpoint, client: client}
}

// Connect is a no-op; each exchange opens its own request.
func (*HTTPAdapter) Connect(_ context.Context) error {
	return nil
}

// Send stages the next request message.
func (a *HTTPAdapter) Send(_ context.Context, msg *protocol.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.pending != nil {
		return errors.NewUnsupportedOperationError("http transport allows one in-flight request at a time", nil)
	}
	a.pending = msg
	return nil
}

// Receive posts the staged message and returns the server's response.
func (a *HTTPAdapter) Receive(ctx context.Context) (*protocol.Message, error) {
	a.mu.Lock()
	msg := a.pending
	a.pending = nil
	a.mu.Unlock()
	if msg == nil {
		return nil, errors.NewUnsupportedOperationError("http transport cannot receive without a staged request", nil)
	}

	body, err := protocol.EncodeFrame(msg)
	if err != nil {
		return nil, errors.NewStreamError(fmt.Sprintf("failed to encode request: %v", err), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewStreamError(fmt.Sprintf("failed to build request: %v", err), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.NewStreamError(fmt.Sprintf("request failed: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, errors.NewStreamError(fmt.Sprintf("server returned status %d", resp.StatusCode), nil)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewStreamError(fmt.Sprintf("failed to read response: %v", err), err)
	}

	out, err := protocol.DecodeFrame(bytes.TrimSpace(respBody))
	if err != nil {
		return nil, errors.NewStreamError(fmt.Sprintf("invalid response frame: %v", err), err)
	}
	return out, nil
}

// Capabilities reports full duplex; the receive path is the response leg of
// the staged request.
func (*HTTPAdapter) Capabilities() Capability {
	return Duplex
}

// Close is a no-op.
func (*HTTPAdapter) Close() error {
	return nil
}
