// Package protocol defines the JSON-RPC message envelope and newline
// framing rules shared by every transport variant.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version used on the wire.
const Version = "2.0"

// Message represents a single JSON-RPC message. The ID is nil for
// notifications; it is preserved verbatim across transport hops so that
// request/response correlation survives bridging.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error represents a JSON-RPC error object
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRequest creates a new JSON-RPC request message
func NewRequest(method string, params interface{}, id interface{}) (*Message, error) {
	paramsJSON, err := marshalField(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  paramsJSON,
		ID:      id,
	}, nil
}

// NewResponse creates a new JSON-RPC response message
func NewResponse(id interface{}, result interface{}) (*Message, error) {
	resultJSON, err := marshalField(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return &Message{
		JSONRPC: Version,
		Result:  resultJSON,
		ID:      id,
	}, nil
}

// NewErrorResponse creates a new JSON-RPC error response message
func NewErrorResponse(id interface{}, code int, message string, data interface{}) (*Message, error) {
	dataJSON, err := marshalField(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal error data: %w", err)
	}

	return &Message{
		JSONRPC: Version,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    dataJSON,
		},
		ID: id,
	}, nil
}

// NewNotification creates a new JSON-RPC notification message
func NewNotification(method string, params interface{}) (*Message, error) {
	paramsJSON, err := marshalField(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	return &Message{
		JSONRPC: Version,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

func marshalField(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// IsRequest returns true if the message is a request
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsResponse returns true if the message is a response
func (m *Message) IsResponse() bool {
	return m.ID != nil && (m.Result != nil || m.Error != nil) && m.Method == ""
}

// IsNotification returns true if the message is a notification
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// Validate validates the JSON-RPC message
func (m *Message) Validate() error {
	if m.JSONRPC != Version {
		return fmt.Errorf("invalid JSON-RPC version: %s", m.JSONRPC)
	}

	if !m.IsRequest() && !m.IsResponse() && !m.IsNotification() {
		return fmt.Errorf("invalid JSON-RPC message format")
	}

	return nil
}
