// Package orchestrator runs one generation turn: it streams model passes
// through the thinking segmenter, executes requested tools and continues the
// conversation with their results until the model stops calling tools or the
// depth bound is hit.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"streamd/internal/events"
	"streamd/internal/inference"
	"streamd/internal/thinking"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

// DefaultMaxDepth bounds tool-call continuations within one turn.
const DefaultMaxDepth = 10

// CancelledMessage is the tool_call_failed error for calls skipped after
// cancellation.
const CancelledMessage = "generation cancelled"

type Config struct {
	Model        inference.Model
	Tools        *tools.Registry
	History      *History
	SystemPrompt string
	Params       inference.Params
	// MaxDepth is the deepest continuation; passes run for depth 0..MaxDepth.
	MaxDepth int
	Tags     thinking.Tags
	Logger   zerolog.Logger
	Clock    func() time.Time
	NewID    func() string
}

type Orchestrator struct {
	cfg Config
}

func New(cfg Config) *Orchestrator {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.Tags.Open == "" || cfg.Tags.Close == "" {
		cfg.Tags = thinking.DefaultTags
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.History == nil {
		cfg.History = NewHistory()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Orchestrator{cfg: cfg}
}

// ToolStatus is the lifecycle position of a ToolCallRecord.
type ToolStatus string

const (
	ToolStarted   ToolStatus = "started"
	ToolExecuting ToolStatus = "executing"
	ToolCompleted ToolStatus = "completed"
	ToolFailed    ToolStatus = "failed"
)

// ToolCallRecord is one tool call of a turn.
type ToolCallRecord struct {
	ID        string
	Name      string
	Arguments map[string]any
	Depth     int
	Status    ToolStatus
	Result    tools.Args
	Error     string
}

// TurnResult is the outcome of RunTurn.
type TurnResult struct {
	// Content is the visible text of every pass, in depth order.
	Content   string
	Stats     types.GenerationStats
	ToolCalls []ToolCallRecord
	// Passes is the number of model passes run.
	Passes    int
	Cancelled bool
}

// RunTurn runs one top-level generation for prompt. Cancelling ctx truncates
// the turn and returns the partial text without error; only model and
// runtime failures are returned as errors, in which case generation_end is
// not emitted.
func (o *Orchestrator) RunTurn(ctx context.Context, prompt string, em events.Emitter) (TurnResult, error) {
	if o.cfg.Model == nil {
		return TurnResult{}, errors.New("orchestrator: no model")
	}
	if em == nil {
		em = events.Discard
	}
	t := &turn{
		o:     o,
		ctx:   ctx,
		em:    em,
		build: events.Builder{Now: o.cfg.Clock},
		log:   o.cfg.Logger,
		start: o.cfg.Clock(),
		ids:   map[string]bool{},
	}
	em.Emit(t.build.GenerationStart())

	base := o.cfg.History.Snapshot()
	if o.cfg.SystemPrompt != "" {
		base = append([]types.Message{{Role: types.RoleSystem, Content: o.cfg.SystemPrompt}}, base...)
	}
	user := types.Message{Role: types.RoleUser, Content: prompt}
	o.cfg.History.Append(user)
	t.newTurn = []types.Message{user}

	for depth := 0; depth <= o.cfg.MaxDepth; depth++ {
		text, calls, err := t.pass(depth, base)
		if err != nil {
			return TurnResult{}, err
		}
		t.content.WriteString(text)
		if len(calls) == 0 {
			if text != "" {
				o.cfg.History.Append(types.Message{Role: types.RoleAssistant, Content: text})
			}
			break
		}
		t.runTools(text, calls)
		if t.cancelled {
			break
		}
		if depth == o.cfg.MaxDepth {
			t.log.Info().Int("depth", depth).Msg("max tool depth reached, ending turn")
		}
	}

	res := TurnResult{
		Content:   t.content.String(),
		Stats:     t.stats(),
		ToolCalls: t.records,
		Passes:    t.passes,
		Cancelled: t.cancelled,
	}
	em.Emit(t.build.GenerationEnd(res.Content, res.Stats))
	return res, nil
}

type turn struct {
	o       *Orchestrator
	ctx     context.Context
	em      events.Emitter
	build   events.Builder
	log     zerolog.Logger
	newTurn []types.Message
	content strings.Builder
	records []ToolCallRecord
	ids     map[string]bool
	passes  int

	start      time.Time
	firstToken time.Time
	toolTime   time.Duration

	chunks     int
	infoSeen   bool
	infoTokens int
	// genSeconds sums tokens/tps over info events that report a rate.
	genSeconds float64
	cancelled  bool
}

// queued points at the record of a call waiting to run.
type queued struct {
	rec int
}

// pass runs one model generation and returns its visible text and the
// resolved tool calls in arrival order.
func (t *turn) pass(depth int, base []types.Message) (string, []queued, error) {
	t.passes++
	log := t.log.With().Int("depth", depth).Logger()
	in, err := t.o.cfg.Model.PrepareInput(base, t.newTurn, t.o.cfg.Tools.Schemas())
	if err != nil {
		return "", nil, err
	}
	stream, err := t.o.cfg.Model.Generate(t.ctx, in, t.o.cfg.Params)
	if err != nil {
		if t.ctx.Err() != nil {
			t.cancelled = true
			return "", nil, nil
		}
		return "", nil, err
	}
	defer stream.Close()

	seg := thinking.New(t.o.cfg.Tags)
	var visible strings.Builder
	var calls []queued
	for {
		if t.ctx.Err() != nil {
			t.cancelled = true
			break
		}
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if t.ctx.Err() != nil {
				t.cancelled = true
				break
			}
			log.Error().Err(err).Msg("generation stream failed")
			return "", nil, err
		}
		if t.ctx.Err() != nil {
			t.cancelled = true
			break
		}
		switch ev.Kind {
		case inference.EventChunk:
			t.chunks++
			t.emitSegments(seg.Process(ev.Text), depth, &visible)
		case inference.EventToolCall:
			if q, ok := t.resolve(ev.Call, depth, log); ok {
				calls = append(calls, q)
			}
		case inference.EventInfo:
			t.infoSeen = true
			t.infoTokens += ev.Info.TokenCount
			if ev.Info.TokensPerSecond > 0 {
				t.genSeconds += float64(ev.Info.TokenCount) / ev.Info.TokensPerSecond
			}
		}
	}
	t.emitSegments(seg.Flush(), depth, &visible)
	if t.cancelled {
		log.Debug().Msg("generation cancelled")
	}
	return visible.String(), calls, nil
}

func (t *turn) emitSegments(outs []thinking.Output, depth int, visible *strings.Builder) {
	for _, o := range outs {
		switch o.Kind {
		case thinking.KindToken:
			if depth == 0 && t.firstToken.IsZero() {
				t.firstToken = t.o.cfg.Clock()
			}
			visible.WriteString(o.Text)
			t.em.Emit(t.build.Token(o.Text))
		case thinking.KindThinkingStart:
			t.em.Emit(t.build.ThinkingStart())
		case thinking.KindThinkingChunk:
			t.em.Emit(t.build.ThinkingChunk(o.Text))
		case thinking.KindThinkingEnd:
			t.em.Emit(t.build.ThinkingEnd(o.Text))
		}
	}
}

// resolve checks a call against the registry, assigns its id and emits
// tool_call_start. Unknown tools are skipped.
func (t *turn) resolve(c inference.ToolCall, depth int, log zerolog.Logger) (queued, bool) {
	if _, ok := t.o.cfg.Tools.Lookup(c.Name); !ok {
		log.Warn().Str("tool", c.Name).Msg("model requested unknown tool, skipping")
		return queued{}, false
	}
	id := c.ID
	if id == "" || t.ids[id] {
		id = t.o.cfg.NewID()
	}
	t.ids[id] = true
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	t.records = append(t.records, ToolCallRecord{ID: id, Name: c.Name, Arguments: args, Depth: depth, Status: ToolStarted})
	t.em.Emit(t.build.ToolCallStart(id, c.Name, string(raw)))
	return queued{rec: len(t.records) - 1}, true
}

// runTools executes calls sequentially and appends the assistant message and
// one tool message per call to the history.
func (t *turn) runTools(text string, calls []queued) {
	assistant := types.Message{Role: types.RoleAssistant, Content: text}
	results := make([]types.Message, 0, len(calls))
	for _, q := range calls {
		rec := &t.records[q.rec]
		raw, _ := json.Marshal(rec.Arguments)
		assistant.ToolCalls = append(assistant.ToolCalls, types.ToolCallRef{ID: rec.ID, Name: rec.Name, Arguments: string(raw)})

		var payload tools.Args
		if t.ctx.Err() != nil {
			t.cancelled = true
			rec.Status = ToolFailed
			rec.Error = CancelledMessage
			payload = tools.Args{"error": tools.String(CancelledMessage)}
			t.em.Emit(t.build.ToolCallFailed(rec.ID, CancelledMessage))
		} else {
			payload = t.execute(rec)
		}
		content, err := payload.JSON()
		if err != nil {
			content = `{"error":"` + tools.FailurePayload + `"}`
		}
		results = append(results, types.Message{Role: types.RoleTool, Content: content, ToolCallID: rec.ID, Name: rec.Name})
	}
	t.newTurn = append(t.newTurn, assistant)
	t.newTurn = append(t.newTurn, results...)
	t.o.cfg.History.Append(assistant)
	t.o.cfg.History.Append(results...)
}

func (t *turn) execute(rec *ToolCallRecord) tools.Args {
	log := t.log.With().Str("tool", rec.Name).Str("id", rec.ID).Logger()
	rec.Status = ToolExecuting
	t.em.Emit(t.build.ToolCallExecuting(rec.ID))
	began := t.o.cfg.Clock()
	// A started tool runs to completion even if the turn is cancelled.
	res, err := t.o.cfg.Tools.Dispatch(context.WithoutCancel(t.ctx), rec.Name, rec.Arguments)
	elapsed := t.o.cfg.Clock().Sub(began)
	t.toolTime += elapsed
	if err == nil && !res.Failed() {
		rec.Status = ToolCompleted
		rec.Result = res.Payload
		out, jerr := res.Payload.JSON()
		if jerr == nil {
			log.Debug().Dur("dur", elapsed).Msg("tool completed")
			t.em.Emit(t.build.ToolCallCompleted(rec.ID, out))
			return res.Payload
		}
		err = jerr
	}
	if err == nil {
		err = res.Err
	}
	log.Warn().Err(err).Dur("dur", elapsed).Msg("tool failed")
	rec.Status = ToolFailed
	rec.Error = err.Error()
	rec.Result = nil
	t.em.Emit(t.build.ToolCallFailed(rec.ID, rec.Error))
	return tools.Args{"error": tools.String(tools.FailurePayload)}
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func (t *turn) stats() types.GenerationStats {
	total := t.o.cfg.Clock().Sub(t.start)
	tokens := t.chunks
	if t.infoSeen {
		tokens = t.infoTokens
	}
	st := types.GenerationStats{
		TokenCount:        float64(tokens),
		TotalTime:         ms(total),
		ToolExecutionTime: ms(t.toolTime),
		TimeToFirstToken:  ms(total),
	}
	if !t.firstToken.IsZero() {
		st.TimeToFirstToken = ms(t.firstToken.Sub(t.start))
	}
	switch gen := (total - t.toolTime).Seconds(); {
	case t.genSeconds > 0:
		st.TokensPerSecond = float64(tokens) / t.genSeconds
	case gen > 0 && tokens > 0:
		st.TokensPerSecond = float64(tokens) / gen
	}
	return st
}
