package bridge

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrMalformed is returned for a line that is not a valid message. The
// stream can still be read after it.
var ErrMalformed = errors.New("malformed message")

// maxLineSize bounds one message. Jacobians of large FFD boxes are the
// biggest payloads.
const maxLineSize = 10 * 1024 * 1024 // 10 MB

// Encoder writes protocol messages to an io.Writer.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a new protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w: bufio.NewWriter(w),
	}
}

// Encode writes a message to the output stream.
func (e *Encoder) Encode(msgType MessageType, data interface{}) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var dataBytes []byte
	var err error
	if data != nil {
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
	}

	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// EncodeReady sends a READY message.
func (e *Encoder) EncodeReady(ready *ReadyMessage) error {
	return e.Encode(MessageTypeReady, ready)
}

// EncodeQuery sends a QUERY message.
func (e *Encoder) EncodeQuery(q *QueryMessage) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("invalid query: %w", err)
	}
	return e.Encode(MessageTypeQuery, q)
}

// EncodeResult sends a RESULT message.
func (e *Encoder) EncodeResult(result *ResultMessage) error {
	return e.Encode(MessageTypeResult, result)
}

// EncodeError sends an ERROR message.
func (e *Encoder) EncodeError(err *ErrorMessage) error {
	return e.Encode(MessageTypeError, err)
}

// EncodeExit sends an EXIT message.
func (e *Encoder) EncodeExit(exit *ExitMessage) error {
	return e.Encode(MessageTypeExit, exit)
}

// Decoder reads protocol messages from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a new protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Decoder{
		r: scanner,
	}
}

// Decode reads the next message from the input stream. It returns io.EOF
// at the end of the stream and an ErrMalformed error for a bad line.
func (d *Decoder) Decode() (*Message, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}

	line := d.r.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("%w: empty line", ErrMalformed)
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return &msg, nil
}

// DecodeQuery decodes a query message.
func (d *Decoder) DecodeQuery() (*QueryMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}

	if msg.Type != MessageTypeQuery {
		return nil, fmt.Errorf("%w: expected QUERY message, got %s", ErrMalformed, msg.Type)
	}

	var q QueryMessage
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal query: %v", ErrMalformed, err)
	}

	if err := q.Validate(); err != nil {
		return &q, fmt.Errorf("%w: invalid query: %v", ErrMalformed, err)
	}

	return &q, nil
}

// ParseData parses message data into a specific type.
func ParseData(data json.RawMessage, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to parse data: %w", err)
	}
	return nil
}
