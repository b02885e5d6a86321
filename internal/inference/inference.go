// Package inference defines the boundary between the orchestrator and a model
// runtime. A Loader produces a Model; a Model turns a prepared conversation
// into a Stream of chunk, tool-call and info events.
//
// Adapters live in subpackages:
//
//   - llamacpp: in-process go-llama.cpp (build tag `llama`; a stub otherwise).
//   - openaicompat: any OpenAI-compatible chat completions server.
//   - llamaserver: spawns and supervises llama-server, then talks to it via openaicompat.
//   - scripted: deterministic models for tests and demos.
package inference

import (
	"context"

	"streamd/internal/tools"
	"streamd/pkg/types"
)

// Params are sampling parameters passed through to the runtime untouched.
// Zero values leave the runtime default in place, except Temperature, where
// nil means default and a pointer to 0 asks for greedy decoding.
type Params struct {
	Temperature   *float32
	TopP          float32
	TopK          int
	MaxTokens     int
	Stop          []string
	Seed          int
	RepeatPenalty float32
}

// Input is a runtime-specific prepared prompt.
type Input any

// EventKind enumerates stream events.
type EventKind int

const (
	EventChunk EventKind = iota + 1
	EventToolCall
	EventInfo
)

// Event is one item of a generation stream. Exactly one of Text, Call or
// Info is meaningful, according to Kind.
type Event struct {
	Kind EventKind
	Text string
	Call ToolCall
	Info Info
}

// ToolCall is a model-issued request to run a tool. ID may be empty.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Info reports generation accounting for the pass that produced it.
type Info struct {
	TokenCount      int
	TokensPerSecond float64
}

// Temperature returns a pointer for Params.Temperature.
func Temperature(v float32) *float32 { return &v }

func Chunk(text string) Event { return Event{Kind: EventChunk, Text: text} }
func Call(c ToolCall) Event   { return Event{Kind: EventToolCall, Call: c} }
func InfoEvent(i Info) Event  { return Event{Kind: EventInfo, Info: i} }

// Stream yields events in order. Next returns io.EOF after the last event.
// Close releases the stream and may be called at any time.
type Stream interface {
	Next() (Event, error)
	Close() error
}

// Model is a loaded model handle.
type Model interface {
	// PrepareInput builds the runtime input from the prior conversation, the
	// messages added during the current turn, and the available tools.
	PrepareInput(history, newTurn []types.Message, schemas []tools.Schema) (Input, error)
	// Generate starts a generation pass. Cancelling ctx ends the stream.
	Generate(ctx context.Context, in Input, p Params) (Stream, error)
	Close() error
}

// Loader loads a model by id, reporting fractional progress in [0,1].
type Loader interface {
	Load(ctx context.Context, modelID string, progress func(float64)) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, modelID string, progress func(float64)) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, modelID string, progress func(float64)) (Model, error) {
	return f(ctx, modelID, progress)
}

// Messages joins history and newTurn into one slice.
func Messages(history, newTurn []types.Message) []types.Message {
	out := make([]types.Message, 0, len(history)+len(newTurn))
	out = append(out, history...)
	return append(out, newTurn...)
}
