// Package events delivers orchestrator progress to callers as an ordered
// sequence of types.StreamEvent values.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"streamd/pkg/types"
)

var logger = zerolog.Nop()

// SetLogger sets the logger used to report events that cannot be encoded.
func SetLogger(l zerolog.Logger) { logger = l }

func logDropped(e types.StreamEvent, err error) {
	logger.Warn().Err(err).Str("event", string(e.EventType())).Msg("dropping event that failed to encode")
}

// Emitter receives events in order. Implementations must not block for long;
// Emit is called on the generation goroutine.
type Emitter interface {
	Emit(types.StreamEvent)
}

// Func adapts a function to Emitter.
type Func func(types.StreamEvent)

func (f Func) Emit(e types.StreamEvent) { f(e) }

// Discard drops every event.
var Discard Emitter = Func(func(types.StreamEvent) {})

// Tokens forwards only visible token text.
func Tokens(onToken func(string)) Emitter {
	return Func(func(e types.StreamEvent) {
		if t, ok := e.(types.TokenEvent); ok {
			onToken(t.Token)
		}
	})
}

// JSON serializes each event to a single JSON object string.
func JSON(onEvent func(string)) Emitter {
	return Func(func(e types.StreamEvent) {
		b, err := json.Marshal(e)
		if err != nil {
			logDropped(e, err)
			return
		}
		onEvent(string(b))
	})
}

// Multi fans events out to every non-nil emitter in order.
func Multi(emitters ...Emitter) Emitter {
	var out []Emitter
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return Func(func(ev types.StreamEvent) {
		for _, e := range out {
			e.Emit(ev)
		}
	})
}

// Builder constructs events with their type and timestamp filled in.
type Builder struct {
	Now func() time.Time
}

func (b Builder) ts() float64 {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return float64(now().UnixMilli())
}

func (b Builder) GenerationStart() types.GenerationStartEvent {
	return types.GenerationStartEvent{Type: types.EventGenerationStart, Timestamp: b.ts()}
}

func (b Builder) Token(tok string) types.TokenEvent {
	return types.TokenEvent{Type: types.EventToken, Token: tok}
}

func (b Builder) ThinkingStart() types.ThinkingStartEvent {
	return types.ThinkingStartEvent{Type: types.EventThinkingStart, Timestamp: b.ts()}
}

func (b Builder) ThinkingChunk(chunk string) types.ThinkingChunkEvent {
	return types.ThinkingChunkEvent{Type: types.EventThinkingChunk, Chunk: chunk}
}

func (b Builder) ThinkingEnd(content string) types.ThinkingEndEvent {
	return types.ThinkingEndEvent{Type: types.EventThinkingEnd, Content: content, Timestamp: b.ts()}
}

func (b Builder) ToolCallStart(id, name, arguments string) types.ToolCallStartEvent {
	return types.ToolCallStartEvent{Type: types.EventToolCallStart, ID: id, Name: name, Arguments: arguments}
}

func (b Builder) ToolCallExecuting(id string) types.ToolCallExecutingEvent {
	return types.ToolCallExecutingEvent{Type: types.EventToolCallExecuting, ID: id}
}

func (b Builder) ToolCallCompleted(id, result string) types.ToolCallCompletedEvent {
	return types.ToolCallCompletedEvent{Type: types.EventToolCallCompleted, ID: id, Result: result}
}

func (b Builder) ToolCallFailed(id, msg string) types.ToolCallFailedEvent {
	return types.ToolCallFailedEvent{Type: types.EventToolCallFailed, ID: id, Error: msg}
}

func (b Builder) GenerationEnd(content string, stats types.GenerationStats) types.GenerationEndEvent {
	return types.GenerationEndEvent{Type: types.EventGenerationEnd, Content: content, Stats: stats}
}
