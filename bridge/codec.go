// Package bridge carries control messages between the warden process and a
// local supervisor over a filesystem socket. Frames are a 4-byte big-endian
// length followed by one JSON object; a malformed frame costs only the
// connection that sent it.
package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// DefaultMaxFrameBytes bounds a frame when the configuration does not.
const DefaultMaxFrameBytes = 1 << 20

var (
	ErrFrameTooLarge = errors.New("bridge: frame exceeds the configured maximum")
	ErrEmptyFrame    = errors.New("bridge: zero-length frame")
)

// Envelope is one request frame.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is one reply frame. Exactly one of Payload and Error is
// meaningful, selected by OK.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the wire form of a failed operation.
type ErrorBody struct {
	Code     int    `json:"code,omitempty"`
	TextCode string `json:"text_code,omitempty"`
	Message  string `json:"message"`
}

func (e *ErrorBody) Error() string {
	if e == nil {
		return ""
	}
	if e.TextCode != "" {
		return e.TextCode + ": " + e.Message
	}
	return e.Message
}

// WriteFrame encodes value as JSON and writes it as one length-prefixed
// frame.
func WriteFrame(w io.Writer, value any, maxFrameBytes int) error {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("bridge: encode frame: %w", err)
	}
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(payload), maxFrameBytes)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("bridge: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("bridge: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame and returns its raw JSON bytes.
func ReadFrame(r io.Reader, maxFrameBytes int) ([]byte, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if int64(length) > int64(maxFrameBytes) {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, maxFrameBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("bridge: read frame payload: %w", err)
	}
	return payload, nil
}

func marshalPayload(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode payload: %w", err)
	}
	return encoded, nil
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// ReadEnvelope reads and decodes one request frame.
func ReadEnvelope(r io.Reader, maxFrameBytes int) (Envelope, error) {
	payload, err := ReadFrame(r, maxFrameBytes)
	if err != nil {
		return Envelope{}, err
	}
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("bridge: decode envelope: %w", err)
	}
	return envelope, nil
}

// ReadResponse reads and decodes one reply frame.
func ReadResponse(r io.Reader, maxFrameBytes int) (Response, error) {
	payload, err := ReadFrame(r, maxFrameBytes)
	if err != nil {
		return Response{}, err
	}
	var response Response
	if err := json.Unmarshal(payload, &response); err != nil {
		return Response{}, fmt.Errorf("bridge: decode response: %w", err)
	}
	return response, nil
}
