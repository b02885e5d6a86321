// Package openaicompat adapts any OpenAI-compatible chat completions server
// (llama-server, vLLM, LM Studio, the OpenAI API) to the inference boundary.
package openaicompat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"

	"streamd/internal/inference"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

const (
	finishStop      = "stop"
	finishToolCalls = "tool_calls"
	finishLength    = "length"
)

// Options configures a Loader.
type Options struct {
	BaseURL string
	APIKey  string
	// Model overrides the served model name; by default the requested id is used.
	Model string
	// SkipVerify skips the model listing check at load time.
	SkipVerify bool
	// TextToolCalls parses <tool_call> blocks out of content deltas for
	// servers that do not emit native tool calls.
	TextToolCalls bool
	HTTPClient    *http.Client
}

// NewClient builds an openai-go client from opts.
func NewClient(opts Options) openai.Client {
	ro := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		ro = append(ro, option.WithHTTPClient(opts.HTTPClient))
	}
	// Retries would replay a partially consumed stream.
	ro = append(ro, option.WithMaxRetries(0))
	return openai.NewClient(ro...)
}

var _ inference.Loader = (*Loader)(nil)

type Loader struct {
	opts   Options
	client openai.Client
}

func NewLoader(opts Options) *Loader {
	return &Loader{opts: opts, client: NewClient(opts)}
}

func (l *Loader) Load(ctx context.Context, modelID string, progress func(float64)) (inference.Model, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	name := l.opts.Model
	if name == "" {
		name = modelID
	}
	progress(0)
	if !l.opts.SkipVerify {
		if err := verifyModel(ctx, l.client, name); err != nil {
			return nil, err
		}
	}
	progress(1)
	return NewModel(l.client, name, l.opts.TextToolCalls), nil
}

func verifyModel(ctx context.Context, client openai.Client, name string) error {
	page, err := client.Models.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return fmt.Errorf("list models: %w", err)
		}
		return inference.ErrDependencyUnavailable("inference server unreachable: " + err.Error())
	}
	for _, m := range page.Data {
		if m.ID == name {
			return nil
		}
	}
	// Single-model servers report whatever alias they were started with.
	if len(page.Data) == 1 {
		return nil
	}
	return inference.ErrModelNotFound(name)
}

// Model streams chat completions for one served model.
type Model struct {
	client        openai.Client
	name          string
	textToolCalls bool
	now           func() time.Time
}

func NewModel(client openai.Client, name string, textToolCalls bool) *Model {
	return &Model{client: client, name: name, textToolCalls: textToolCalls, now: time.Now}
}

type request struct {
	messages []openai.ChatCompletionMessageParamUnion
	tools    []openai.ChatCompletionToolParam
}

func (m *Model) PrepareInput(history, newTurn []types.Message, schemas []tools.Schema) (inference.Input, error) {
	msgs := inference.Messages(history, newTurn)
	req := request{messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))}
	for _, msg := range msgs {
		p, err := convMessage(msg)
		if err != nil {
			return nil, err
		}
		req.messages = append(req.messages, p)
	}
	for _, s := range schemas {
		params, err := s.ParametersJSON()
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", s.Name, err)
		}
		req.tools = append(req.tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        s.Name,
				Description: param.NewOpt(s.Description),
				Parameters:  openai.FunctionParameters(params),
			},
		})
	}
	return req, nil
}

func convMessage(msg types.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case types.RoleSystem:
		return openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: param.NewOpt(msg.Content)},
			},
		}, nil
	case types.RoleUser:
		return openai.ChatCompletionMessageParamUnion{
			OfUser: &openai.ChatCompletionUserMessageParam{
				Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: param.NewOpt(msg.Content)},
			},
		}, nil
	case types.RoleAssistant:
		am := &openai.ChatCompletionAssistantMessageParam{}
		if msg.Content != "" {
			am.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: param.NewOpt(msg.Content)}
		}
		for _, tc := range msg.ToolCalls {
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			am.ToolCalls = append(am.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:       tc.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{Name: tc.Name, Arguments: args},
			})
		}
		return openai.ChatCompletionMessageParamUnion{OfAssistant: am}, nil
	case types.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID), nil
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unexpected message role: %s", msg.Role)
	}
}

func (m *Model) params(req request, p inference.Params) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages: req.messages,
		Model:    m.name,
		Tools:    req.tools,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: param.NewOpt(true),
		},
	}
	if p.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.MaxTokens))
	}
	if p.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*p.Temperature))
	}
	if p.TopP > 0 {
		params.TopP = param.NewOpt(float64(p.TopP))
	}
	if p.Seed != 0 {
		params.Seed = param.NewOpt(int64(p.Seed))
	}
	if len(p.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: p.Stop}
	}
	// llama.cpp samplers outside the OpenAI schema; llama-server and most
	// local servers read them from the request body.
	extra := map[string]any{}
	if p.TopK > 0 {
		extra["top_k"] = p.TopK
	}
	if p.RepeatPenalty > 0 {
		extra["repeat_penalty"] = p.RepeatPenalty
	}
	if len(extra) > 0 {
		params.SetExtraFields(extra)
	}
	return params
}

func (m *Model) Generate(ctx context.Context, in inference.Input, p inference.Params) (inference.Stream, error) {
	req, ok := in.(request)
	if !ok {
		return nil, fmt.Errorf("openaicompat: unexpected input %T", in)
	}
	params := m.params(req, p)
	var x *inference.ToolCallExtractor
	if m.textToolCalls && len(req.tools) > 0 {
		x = inference.NewToolCallExtractor()
	}
	return inference.Pipe(ctx, func(ctx context.Context, emit func(inference.Event) bool) error {
		stream := m.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		return (&puller{emit: emit, text: x, now: m.now}).pull(ctx, stream)
	}), nil
}

func (m *Model) Close() error { return nil }

// puller accumulates streamed tool-call deltas by index and emits each call
// once the choice finishes.
type puller struct {
	emit    func(inference.Event) bool
	text    *inference.ToolCallExtractor
	now     func() time.Time
	calls   map[int64]*pendingCall
	chunks  int
	usage   int64
	started time.Time
}

type pendingCall struct {
	id, name string
	args     strings.Builder
}

var errStopped = errors.New("stream closed")

func (p *puller) send(evs ...inference.Event) error {
	for _, ev := range evs {
		if !p.emit(ev) {
			return errStopped
		}
	}
	return nil
}

func (p *puller) pull(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk]) error {
	p.calls = map[int64]*pendingCall{}
	p.started = p.now()
	err := p.loop(stream)
	if errors.Is(err, errStopped) || ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *puller) loop(stream *ssestream.Stream[openai.ChatCompletionChunk]) error {
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.CompletionTokens > 0 {
			p.usage = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		sel := chunk.Choices[0]
		if s := sel.Delta.Content; s != "" {
			p.chunks++
			evs := []inference.Event{inference.Chunk(s)}
			if p.text != nil {
				evs = p.text.Process(s)
			}
			if err := p.send(evs...); err != nil {
				return err
			}
		}
		for _, t := range sel.Delta.ToolCalls {
			pc, ok := p.calls[t.Index]
			if !ok {
				pc = &pendingCall{}
				p.calls[t.Index] = pc
			}
			if t.ID != "" {
				pc.id = t.ID
			}
			pc.name += t.Function.Name
			pc.args.WriteString(t.Function.Arguments)
		}
		switch sel.FinishReason {
		case finishToolCalls, finishStop, finishLength:
			if err := p.commit(); err != nil {
				return err
			}
		}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if err := p.commit(); err != nil {
		return err
	}
	return p.send(inference.InfoEvent(p.info()))
}

func (p *puller) commit() error {
	if p.text != nil {
		if err := p.send(p.text.Flush()...); err != nil {
			return err
		}
	}
	idx := make([]int64, 0, len(p.calls))
	for i := range p.calls {
		idx = append(idx, i)
	}
	sort.Slice(idx, func(a, b int) bool { return idx[a] < idx[b] })
	for _, i := range idx {
		pc := p.calls[i]
		delete(p.calls, i)
		if pc.name == "" {
			continue
		}
		args, ok := inference.DecodeArgumentString(pc.args.String())
		if !ok {
			args = map[string]any{}
		}
		if err := p.send(inference.Call(inference.ToolCall{ID: pc.id, Name: pc.name, Arguments: args})); err != nil {
			return err
		}
	}
	return nil
}

func (p *puller) info() inference.Info {
	tokens := int(p.usage)
	if tokens == 0 {
		tokens = p.chunks
	}
	info := inference.Info{TokenCount: tokens}
	if secs := p.now().Sub(p.started).Seconds(); secs > 0 && tokens > 0 {
		info.TokensPerSecond = float64(tokens) / secs
	}
	return info
}
