// Package protocol implements the wire format spoken with the test runner
// process: JSON envelopes, each terminated by the literal "<EOF>".
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Delimiter terminates every frame on the wire.
const Delimiter = "<EOF>"

// Message types understood by the runner.
const (
	TypeEnumTests = "enumtests"
	TypeRunTests  = "runtests"
)

var (
	// ErrTruncatedFrame is returned when the stream ends in the middle of a frame.
	ErrTruncatedFrame = errors.New("stream ended inside a frame")
	// ErrDelimiterInFrame is returned when an outgoing frame would contain the delimiter.
	ErrDelimiterInFrame = errors.New("frame contains the message delimiter")
)

// Message is the envelope of every frame. Field names are matched
// case-insensitively on receipt.
type Message struct {
	Type    string          `json:"MessageType"`
	Payload json.RawMessage `json:"Payload"`
}

// DecodePayload unmarshals the payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return &ProtocolError{Frame: nil, Err: fmt.Errorf("%s message has no payload", m.Type)}
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return &ProtocolError{Frame: m.Payload, Err: fmt.Errorf("decoding %s payload: %w", m.Type, err)}
	}
	return nil
}

// ProtocolError reports a frame that could not be understood. The stream
// itself is still usable after a ProtocolError.
type ProtocolError struct {
	Frame []byte
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsProtocolError checks if the error is or wraps a ProtocolError
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return err != nil && errors.As(err, &protoErr)
}
