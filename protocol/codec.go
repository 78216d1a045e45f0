package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

const (
	initialFrameBuffer = 64 * 1024
	// MaxFrameSize bounds a single frame, enumerations of large solutions included.
	MaxFrameSize = 64 * 1024 * 1024
)

var delimiter = []byte(Delimiter)

// Encoder writes delimited frames to an underlying writer. It is safe for
// concurrent use; each frame is written with a single Write call.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one message of the given type.
func (e *Encoder) Encode(msgType string, payload any) error {
	frame, err := EncodeFrame(msgType, payload)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", msgType, err)
	}
	return nil
}

// EncodeFrame serializes a message followed by the delimiter.
func EncodeFrame(msgType string, payload any) ([]byte, error) {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", msgType, err)
	}
	// json.Marshal escapes '<' and '>', so string content cannot produce
	// the delimiter. Guard anyway: a broken frame desyncs the peer.
	body, err := json.Marshal(Message{Type: msgType, Payload: rawPayload})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", msgType, err)
	}
	if bytes.Contains(body, delimiter) {
		return nil, ErrDelimiterInFrame
	}
	return append(body, delimiter...), nil
}

// Decoder reads delimited frames from a stream. Several frames in one read
// and frames split across reads are both handled.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialFrameBuffer), MaxFrameSize)
	scanner.Split(splitFrames)
	return &Decoder{scanner: scanner}
}

// Decode returns the next message. A *ProtocolError means the frame was
// skipped and Decode may be called again; any other error is final, with
// io.EOF marking a clean end of stream.
func (d *Decoder) Decode() (*Message, error) {
	for d.scanner.Scan() {
		frame := bytes.TrimSpace(d.scanner.Bytes())
		if len(frame) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			return nil, &ProtocolError{Frame: bytes.Clone(frame), Err: err}
		}
		if msg.Type == "" {
			return nil, &ProtocolError{Frame: bytes.Clone(frame), Err: fmt.Errorf("missing message type")}
		}
		return &msg, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.Index(data, delimiter); i >= 0 {
		return i + len(delimiter), data[:i], nil
	}
	if atEOF {
		if len(bytes.TrimSpace(data)) > 0 {
			return 0, nil, ErrTruncatedFrame
		}
		return len(data), nil, nil
	}
	return 0, nil, nil
}
