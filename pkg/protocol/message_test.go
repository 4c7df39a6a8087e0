package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageClassification(t *testing.T) {
	req, err := NewRequest("tools/list", nil, "req-1")
	require.NoError(t, err)
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsResponse())
	assert.False(t, req.IsNotification())

	resp, err := NewResponse("req-1", map[string]any{"tools": []string{}})
	require.NoError(t, err)
	assert.True(t, resp.IsResponse())
	assert.False(t, resp.IsRequest())

	notif, err := NewNotification("notifications/progress", map[string]any{"progress": 50})
	require.NoError(t, err)
	assert.True(t, notif.IsNotification())
	assert.False(t, notif.IsRequest())
}

func TestValidate(t *testing.T) {
	req, err := NewRequest("initialize", map[string]any{"protocolVersion": "2025-03-26"}, 1)
	require.NoError(t, err)
	assert.NoError(t, req.Validate())

	badVersion := &Message{JSONRPC: "1.0", Method: "ping", ID: 1}
	assert.Error(t, badVersion.Validate())

	// Neither request, response, nor notification.
	empty := &Message{JSONRPC: Version}
	assert.Error(t, empty.Validate())
}

func TestErrorResponse(t *testing.T) {
	msg, err := NewErrorResponse(7, -32601, "method not found", nil)
	require.NoError(t, err)
	assert.True(t, msg.IsResponse())
	assert.Equal(t, -32601, msg.Error.Code)
}

func TestFrameRoundTrip(t *testing.T) {
	req, err := NewRequest("tools/call", map[string]any{"name": "search"}, "abc-123")
	require.NoError(t, err)

	frame, err := EncodeFrame(req)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), frame[len(frame)-1])

	decoded, err := DecodeFrame(frame[:len(frame)-1])
	require.NoError(t, err)
	assert.Equal(t, "tools/call", decoded.Method)
	assert.Equal(t, "abc-123", decoded.ID)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte("not json at all"))
	assert.Error(t, err)

	_, err = DecodeFrame([]byte(`{"jsonrpc":"2.0"}`))
	assert.Error(t, err)
}

func TestIDPreservedThroughEncoding(t *testing.T) {
	// Numeric IDs decode as float64; the raw value must survive re-encoding
	// so correlation works across transport hops.
	frame := []byte(`{"jsonrpc":"2.0","id":42,"method":"ping"}`)
	msg, err := DecodeFrame(frame)
	require.NoError(t, err)

	encoded, err := EncodeFrame(msg)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(encoded, &out))
	assert.EqualValues(t, 42, out["id"])
}
