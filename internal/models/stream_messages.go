package models

import (
	"encoding/json"
	"fmt"
)

// DefaultChunkSize is the batch bound used when a request does not set one.
const DefaultChunkSize = 800

// MessageType discriminates stream requests and responses on the wire.
type MessageType string

const (
	TypeStart MessageType = "start"
	TypeMeta  MessageType = "meta"
	TypeChunk MessageType = "chunk"
	TypeError MessageType = "error"
)

// StreamRequest asks the coordinator to parse Raw and stream it back.
//
// ID:        optional opaque session key, echoed on every response.
// ChunkSize: rows per chunk; zero or negative means DefaultChunkSize.
type StreamRequest struct {
	Type      MessageType `json:"type"`
	ID        string      `json:"id,omitempty"`
	Raw       string      `json:"raw"`
	ChunkSize int         `json:"chunkSize,omitempty"`
}

// EffectiveChunkSize resolves the batch bound for this request.
func (r StreamRequest) EffectiveChunkSize(fallback int) int {
	if r.ChunkSize > 0 {
		return r.ChunkSize
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultChunkSize
}

// DecodeStreamRequest decodes one request payload.
func DecodeStreamRequest(data []byte) (StreamRequest, error) {
	var req StreamRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return StreamRequest{}, fmt.Errorf("decode stream request: %w", err)
	}
	return req, nil
}

// DecodeStreamEnvelope reads only the type and id of a request, so a start
// request with mistyped fields can still be answered. A non-string id is
// reported as empty.
func DecodeStreamEnvelope(data []byte) (MessageType, string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", "", fmt.Errorf("decode stream envelope: %w", err)
	}
	var typ MessageType
	if err := json.Unmarshal(fields["type"], &typ); err != nil {
		return "", "", fmt.Errorf("decode stream envelope: type: %w", err)
	}
	var id string
	_ = json.Unmarshal(fields["id"], &id)
	return typ, id, nil
}

// StreamMessage is one coordinator response. Only the fields of its Type
// are meaningful:
//
//	meta:  Headers, Total
//	chunk: Rows, Done
//	error: Message
type StreamMessage struct {
	ID      string      `json:"id,omitempty"`
	Type    MessageType `json:"type"`
	Headers []string    `json:"headers,omitempty"`
	Total   int         `json:"total,omitempty"`
	Rows    [][]string  `json:"rows,omitempty"`
	Done    bool        `json:"done,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Terminal reports whether no message follows this one in its session.
func (m StreamMessage) Terminal() bool {
	return m.Type == TypeError || (m.Type == TypeChunk && m.Done)
}

type metaWire struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Headers []string    `json:"headers"`
	Total   int         `json:"total"`
}

type chunkWire struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
	Rows [][]string  `json:"rows"`
	Done bool        `json:"done"`
}

type errorWire struct {
	Type    MessageType `json:"type"`
	ID      string      `json:"id,omitempty"`
	Message string      `json:"message"`
}

// MarshalJSON writes the exact per-type shape, so empty lists and
// done:false are always present.
func (m StreamMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case TypeMeta:
		headers := m.Headers
		if headers == nil {
			headers = []string{}
		}
		return json.Marshal(metaWire{Type: m.Type, ID: m.ID, Headers: headers, Total: m.Total})
	case TypeChunk:
		rows := m.Rows
		if rows == nil {
			rows = [][]string{}
		}
		return json.Marshal(chunkWire{Type: m.Type, ID: m.ID, Rows: rows, Done: m.Done})
	case TypeError:
		return json.Marshal(errorWire{Type: m.Type, ID: m.ID, Message: m.Message})
	default:
		return nil, fmt.Errorf("marshal stream message: unknown type %q", m.Type)
	}
}

// DecodeStreamMessage decodes one response payload.
func DecodeStreamMessage(data []byte) (StreamMessage, error) {
	type plain StreamMessage
	var m plain
	if err := json.Unmarshal(data, &m); err != nil {
		return StreamMessage{}, fmt.Errorf("decode stream message: %w", err)
	}
	switch m.Type {
	case TypeMeta, TypeChunk, TypeError:
		return StreamMessage(m), nil
	default:
		return StreamMessage{}, fmt.Errorf("decode stream message: unknown type %q", m.Type)
	}
}
