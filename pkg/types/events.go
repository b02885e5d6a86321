package types

import (
	"encoding/json"
	"fmt"
)

// EventType is the "type" discriminator carried by every StreamEvent.
type EventType string

const (
	EventGenerationStart   EventType = "generation_start"
	EventToken             EventType = "token"
	EventThinkingStart     EventType = "thinking_start"
	EventThinkingChunk     EventType = "thinking_chunk"
	EventThinkingEnd       EventType = "thinking_end"
	EventToolCallStart     EventType = "tool_call_start"
	EventToolCallExecuting EventType = "tool_call_executing"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventToolCallFailed    EventType = "tool_call_failed"
	EventGenerationEnd     EventType = "generation_end"
)

// StreamEvent is implemented by every event variant below. Each variant
// marshals to a single JSON object whose "type" field names the variant.
type StreamEvent interface {
	EventType() EventType
}

// Timestamps are milliseconds since the Unix epoch.

type GenerationStartEvent struct {
	Type      EventType `json:"type"`
	Timestamp float64   `json:"timestamp"`
}

type TokenEvent struct {
	Type  EventType `json:"type"`
	Token string    `json:"token"`
}

type ThinkingStartEvent struct {
	Type      EventType `json:"type"`
	Timestamp float64   `json:"timestamp"`
}

type ThinkingChunkEvent struct {
	Type  EventType `json:"type"`
	Chunk string    `json:"chunk"`
}

type ThinkingEndEvent struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Timestamp float64   `json:"timestamp"`
}

// ToolCallStartEvent carries the call arguments as a JSON-encoded string.
type ToolCallStartEvent struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"`
}

type ToolCallExecutingEvent struct {
	Type EventType `json:"type"`
	ID   string    `json:"id"`
}

// ToolCallCompletedEvent carries the handler result as a JSON-encoded string.
type ToolCallCompletedEvent struct {
	Type   EventType `json:"type"`
	ID     string    `json:"id"`
	Result string    `json:"result"`
}

type ToolCallFailedEvent struct {
	Type  EventType `json:"type"`
	ID    string    `json:"id"`
	Error string    `json:"error"`
}

type GenerationEndEvent struct {
	Type    EventType       `json:"type"`
	Content string          `json:"content"`
	Stats   GenerationStats `json:"stats"`
}

func (GenerationStartEvent) EventType() EventType   { return EventGenerationStart }
func (TokenEvent) EventType() EventType             { return EventToken }
func (ThinkingStartEvent) EventType() EventType     { return EventThinkingStart }
func (ThinkingChunkEvent) EventType() EventType     { return EventThinkingChunk }
func (ThinkingEndEvent) EventType() EventType       { return EventThinkingEnd }
func (ToolCallStartEvent) EventType() EventType     { return EventToolCallStart }
func (ToolCallExecutingEvent) EventType() EventType { return EventToolCallExecuting }
func (ToolCallCompletedEvent) EventType() EventType { return EventToolCallCompleted }
func (ToolCallFailedEvent) EventType() EventType    { return EventToolCallFailed }
func (GenerationEndEvent) EventType() EventType     { return EventGenerationEnd }

// DecodeStreamEvent parses a single JSON object into its concrete variant.
func DecodeStreamEvent(b []byte) (StreamEvent, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	var ev StreamEvent
	var err error
	switch head.Type {
	case EventGenerationStart:
		ev, err = decodeAs[GenerationStartEvent](b)
	case EventToken:
		ev, err = decodeAs[TokenEvent](b)
	case EventThinkingStart:
		ev, err = decodeAs[ThinkingStartEvent](b)
	case EventThinkingChunk:
		ev, err = decodeAs[ThinkingChunkEvent](b)
	case EventThinkingEnd:
		ev, err = decodeAs[ThinkingEndEvent](b)
	case EventToolCallStart:
		ev, err = decodeAs[ToolCallStartEvent](b)
	case EventToolCallExecuting:
		ev, err = decodeAs[ToolCallExecutingEvent](b)
	case EventToolCallCompleted:
		ev, err = decodeAs[ToolCallCompletedEvent](b)
	case EventToolCallFailed:
		ev, err = decodeAs[ToolCallFailedEvent](b)
	case EventGenerationEnd:
		ev, err = decodeAs[GenerationEndEvent](b)
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}

func decodeAs[T StreamEvent](b []byte) (StreamEvent, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
