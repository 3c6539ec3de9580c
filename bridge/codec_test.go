package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/goccy/go-json"
)

func TestFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer

	request := Envelope{
		ID:      "req-1",
		Type:    "warden.query.status",
		Payload: json.RawMessage(`{"verbose":true}`),
	}
	if err := WriteFrame(&buf, request, 0); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	header := buf.Bytes()[:4]
	if got := binary.BigEndian.Uint32(header); int(got) != buf.Len()-4 {
		t.Fatalf("expected header length %d, got %d", buf.Len()-4, got)
	}

	decoded, err := ReadEnvelope(&buf, 0)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if decoded.ID != request.ID || decoded.Type != request.Type {
		t.Fatalf("expected %+v, got %+v", request, decoded)
	}
	if string(decoded.Payload) != string(request.Payload) {
		t.Fatalf("expected payload %s, got %s", request.Payload, decoded.Payload)
	}
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	frame := []byte{0, 0, 0, 0}

	if _, err := ReadFrame(bytes.NewReader(frame), 0); !errors.Is(err, ErrEmptyFrame) {
		t.Fatalf("expected ErrEmptyFrame, got %v", err)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var frame [4]byte
	binary.BigEndian.PutUint32(frame[:], 64)

	_, err := ReadFrame(bytes.NewReader(frame[:]), 16)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Envelope{ID: "req-2", Type: "x"}, 0); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(truncated), 0)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	payload := Envelope{ID: "req-3", Type: "x", Payload: json.RawMessage(`"` + string(bytes.Repeat([]byte("a"), 128)) + `"`)}

	err := WriteFrame(io.Discard, payload, 32)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadEnvelopeRejectsUndecodablePayload(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("{not json")
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	buf.Write(header[:])
	buf.Write(body)

	if _, err := ReadEnvelope(&buf, 0); err == nil {
		t.Fatalf("expected undecodable payload to be rejected")
	}
}
