package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies the variant of a decoded stream event.
type Kind int

const (
	KindUnknown Kind = iota
	KindStatus
	KindMessage
	KindChunk
	KindComplete
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindMessage:
		return "message"
	case KindChunk:
		return "chunk"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state reported for a conversation or agent edit.
// Values the server adds later are passed through verbatim.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusActive     Status = "active"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Event is one decoded block of the stream.
type Event interface {
	Kind() Kind
}

type StatusEvent struct {
	ConversationID string `json:"conversationId"`
	Status         Status `json:"status"`
}

type MessageEvent struct {
	ConversationID string `json:"conversationId"`
	Role           Role   `json:"role"`
	Content        string `json:"content"`
}

// ChunkEvent carries an incremental piece of an agent edit response.
type ChunkEvent struct {
	Content string `json:"content"`
}

// CompleteEvent is an explicit end-of-response marker. A non-empty Content is the
// server's final text and replaces what the chunks accumulated.
type CompleteEvent struct {
	Content string `json:"content"`
}

// ErrorEvent is an error reported in-band by the server.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (StatusEvent) Kind() Kind   { return KindStatus }
func (MessageEvent) Kind() Kind  { return KindMessage }
func (ChunkEvent) Kind() Kind    { return KindChunk }
func (CompleteEvent) Kind() Kind { return KindComplete }
func (ErrorEvent) Kind() Kind    { return KindError }

// unknownEvent is returned for well-formed payloads that match no variant.
type unknownEvent struct {
	Marker string
}

func (unknownEvent) Kind() Kind { return KindUnknown }

// Classify picks the event variant. Status and message are recognised by marker or
// by their keys; otherwise a marker naming a variant wins, and only an absent or
// unrecognised marker falls back to the content and error keys.
func Classify(marker string, payload map[string]json.RawMessage) Kind {
	has := func(key string) bool {
		_, ok := payload[key]
		return ok
	}

	switch {
	case marker == "status" || has("status"):
		return KindStatus
	case marker == "message" || (has("role") && has("content")):
		return KindMessage
	}

	switch marker {
	case "complete", "done":
		return KindComplete
	case "chunk":
		return KindChunk
	case "error":
		return KindError
	}

	switch {
	case has("content"):
		return KindChunk
	case has("error"):
		return KindError
	default:
		return KindUnknown
	}
}

// Parse decodes one data payload into a typed event. The payload must be a JSON
// object; field values that are not strings are kept as their JSON text.
func Parse(marker string, data []byte) (Event, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("invalid event payload: not a JSON object")
	}

	switch Classify(marker, payload) {
	case KindStatus:
		return StatusEvent{
			ConversationID: field(payload, "conversationId"),
			Status:         Status(field(payload, "status")),
		}, nil
	case KindMessage:
		return MessageEvent{
			ConversationID: field(payload, "conversationId"),
			Role:           Role(field(payload, "role")),
			Content:        field(payload, "content"),
		}, nil
	case KindChunk:
		return ChunkEvent{Content: field(payload, "content")}, nil
	case KindComplete:
		return CompleteEvent{Content: field(payload, "content")}, nil
	case KindError:
		return parseError(payload), nil
	default:
		return unknownEvent{Marker: marker}, nil
	}
}

// field returns payload[key] as text: strings are unquoted, null and missing keys give
// "", anything else is returned as compact JSON.
func field(payload map[string]json.RawMessage, key string) string {
	raw, ok := payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return text
}

// parseError accepts {"message": "..."}, {"error": "..."}, {"error": {"message": "..."}}
// and, under an explicit error marker, {"content": "..."}.
func parseError(payload map[string]json.RawMessage) ErrorEvent {
	if msg := field(payload, "message"); msg != "" {
		return ErrorEvent{Message: msg}
	}
	if raw, ok := payload["error"]; ok {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &nested) == nil && nested.Message != "" {
			return ErrorEvent{Message: nested.Message}
		}
		if msg := field(payload, "error"); msg != "" {
			return ErrorEvent{Message: msg}
		}
	}
	if msg := field(payload, "content"); msg != "" {
		return ErrorEvent{Message: msg}
	}
	return ErrorEvent{Message: "stream reported an error"}
}
