// Package scripted provides deterministic models that replay predefined
// event passes. Tests use it to drive the orchestrator and session; the CLI
// exposes an echo model as the "scripted" runtime for demos.
package scripted

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"streamd/internal/inference"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

// Pass is the event sequence of one Generate call.
type Pass []inference.Event

// Model replays Passes in order. Once they are exhausted the last pass
// repeats when Repeat is set; otherwise an empty pass is returned.
type Model struct {
	Passes []Pass
	Repeat bool
	// Respond, when set, builds each pass from the prepared messages instead
	// of using Passes.
	Respond func(msgs []types.Message) Pass
	// BeforeEvent runs before event i of pass n is delivered.
	BeforeEvent func(pass, i int)
	// Delay sleeps before each event (cancellable).
	Delay       time.Duration
	GenerateErr error

	mu      sync.Mutex
	calls   int
	inputs  [][]types.Message
	schemas [][]tools.Schema
	params  []inference.Params
	closed  bool
}

func NewModel(passes ...Pass) *Model { return &Model{Passes: passes} }

// Chunks builds a pass of text chunks followed by an info event counting them.
func Chunks(texts ...string) Pass {
	p := make(Pass, 0, len(texts)+1)
	for _, t := range texts {
		p = append(p, inference.Chunk(t))
	}
	return append(p, inference.InfoEvent(inference.Info{TokenCount: len(texts), TokensPerSecond: 100}))
}

type input struct {
	msgs    []types.Message
	schemas []tools.Schema
}

func (m *Model) PrepareInput(history, newTurn []types.Message, schemas []tools.Schema) (inference.Input, error) {
	return input{msgs: inference.Messages(history, newTurn), schemas: schemas}, nil
}

func (m *Model) Generate(ctx context.Context, in inference.Input, p inference.Params) (inference.Stream, error) {
	inp, ok := in.(input)
	if !ok {
		return nil, fmt.Errorf("scripted: unexpected input %T", in)
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("scripted: model closed")
	}
	n := m.calls
	m.calls++
	m.inputs = append(m.inputs, inp.msgs)
	m.schemas = append(m.schemas, inp.schemas)
	m.params = append(m.params, p)
	err := m.GenerateErr
	var pass Pass
	switch {
	case m.Respond != nil:
	case n < len(m.Passes):
		pass = m.Passes[n]
	case m.Repeat && len(m.Passes) > 0:
		pass = m.Passes[len(m.Passes)-1]
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if m.Respond != nil {
		pass = m.Respond(inp.msgs)
	}
	return &stream{ctx: ctx, m: m, pass: n, events: pass}, nil
}

func (m *Model) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Calls reports how many times Generate was called.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Inputs returns the messages passed to each Generate call.
func (m *Model) Inputs() [][]types.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]types.Message(nil), m.inputs...)
}

// Schemas returns the tool schemas passed to each Generate call.
func (m *Model) Schemas() [][]tools.Schema {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]tools.Schema(nil), m.schemas...)
}

// Params returns the sampling params passed to each Generate call.
func (m *Model) Params() []inference.Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inference.Params(nil), m.params...)
}

func (m *Model) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type stream struct {
	ctx    context.Context
	m      *Model
	pass   int
	events Pass
	i      int
}

func (s *stream) Next() (inference.Event, error) {
	if err := s.ctx.Err(); err != nil {
		return inference.Event{}, err
	}
	if s.i >= len(s.events) {
		return inference.Event{}, io.EOF
	}
	if s.m.Delay > 0 {
		t := time.NewTimer(s.m.Delay)
		select {
		case <-t.C:
		case <-s.ctx.Done():
			t.Stop()
			return inference.Event{}, s.ctx.Err()
		}
	}
	if s.m.BeforeEvent != nil {
		s.m.BeforeEvent(s.pass, s.i)
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

func (s *stream) Close() error { return nil }

// Loader hands out models built by New, recording each requested id.
type Loader struct {
	New func(modelID string) (inference.Model, error)
	// Gate, when non-nil, blocks Load until it is closed or ctx is done.
	Gate chan struct{}

	mu    sync.Mutex
	loads []string
}

func (l *Loader) Load(ctx context.Context, modelID string, progress func(float64)) (inference.Model, error) {
	l.mu.Lock()
	l.loads = append(l.loads, modelID)
	l.mu.Unlock()
	if progress != nil {
		progress(0)
	}
	if l.Gate != nil {
		select {
		case <-l.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mdl, err := l.New(modelID)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(1)
	}
	return mdl, nil
}

// Loads returns the requested model ids in order.
func (l *Loader) Loads() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.loads...)
}

// EchoLoader returns a loader whose models think briefly, then echo the last
// user message word by word. Prompts starting with "time" trigger a
// current_time tool call when that tool is available.
func EchoLoader() *Loader {
	return &Loader{New: func(string) (inference.Model, error) {
		return &Model{Respond: echo, Delay: 15 * time.Millisecond}, nil
	}}
}

func echo(msgs []types.Message) Pass {
	if len(msgs) > 0 && msgs[len(msgs)-1].Role == types.RoleTool {
		return Chunks("The tool said: ", msgs[len(msgs)-1].Content)
	}
	last := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			last = msgs[i].Content
			break
		}
	}
	if strings.HasPrefix(strings.ToLower(last), "time") {
		return Pass{inference.Call(inference.ToolCall{Name: "current_time", Arguments: map[string]any{}})}
	}
	texts := []string{"<think>", "echoing the prompt", "</think>"}
	for i, w := range strings.Fields(last) {
		if i > 0 {
			w = " " + w
		}
		texts = append(texts, w)
	}
	return Chunks(texts...)
}
