package protocol

import (
	"encoding/json"
	"fmt"
)

// EncodeFrame serializes a message as one newline-terminated frame.
func EncodeFrame(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON-RPC message: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeFrame parses a single frame (one line, without the trailing newline)
// into a validated message.
func DecodeFrame(line []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON-RPC message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}
