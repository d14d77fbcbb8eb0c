// Package protocol defines the WebSocket frames exchanged between client and
// server. Every frame is a JSON object with a "type" discriminator:
//
//	client request: {"type":"<event>","ack":<n>,"data":{...}}
//	server reply:   {"type":"ack","ack":<n>,"data":...,"error":"..."}
//	server push:    {"type":"<event>","data":...}
//
// A request with ack 0 expects no reply.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TypeAck is the discriminator of replies to client requests.
const TypeAck = "ack"

// TypePing and TypePong are the application-level keepalive frames.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// TypeConnected is pushed right after the upgrade with the connection id.
const TypeConnected = "connected"

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field so the rest can be decoded later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// Request is a parsed client frame.
type Request struct {
	Type string          `json:"type"`
	Ack  uint64          `json:"ack,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseClientMessage parses raw WebSocket bytes into a Request. It returns
// an error for malformed JSON or a missing type.
func ParseClientMessage(data []byte) (Request, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Request{}, fmt.Errorf("protocol: failed to parse message: %w", err)
	}
	var req Request
	if err := json.Unmarshal(env.Raw, &req); err != nil {
		return Request{Type: env.Type}, fmt.Errorf("protocol: failed to decode %q frame: %w", env.Type, err)
	}
	return req, nil
}

// Decode unmarshals a request payload into v. A missing payload decodes as
// an empty object.
func Decode(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

type push struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// NewServerMessage encodes a server push frame.
func NewServerMessage(msgType string, payload any) ([]byte, error) {
	out, err := json.Marshal(push{Type: msgType, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

type ack struct {
	Type  string `json:"type"`
	Ack   uint64 `json:"ack"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewAck encodes the reply to request number id. A non-empty errMsg marks
// the call as failed and data is dropped.
func NewAck(id uint64, data any, errMsg string) ([]byte, error) {
	a := ack{Type: TypeAck, Ack: id}
	if errMsg != "" {
		a.Error = errMsg
	} else {
		a.Data = data
	}
	out, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal ack: %w", err)
	}
	return out, nil
}
