package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"streamd/internal/inference"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

type fakeServer struct {
	mu     sync.Mutex
	bodies []map[string]any
	chunks []string
	models []string
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		var data []map[string]any
		for _, id := range f.models {
			data = append(data, map[string]any{"id": id, "object": "model", "created": 0, "owned_by": "test"})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range f.chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	return mux
}

func chunk(delta string, finish string) string {
	fr := "null"
	if finish != "" {
		fr = `"` + finish + `"`
	}
	return `{"id":"c1","object":"chat.completion.chunk","created":0,"model":"m","choices":[{"index":0,"delta":` + delta + `,"finish_reason":` + fr + `}]}`
}

func usageChunk(n int) string {
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","created":0,"model":"m","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":%d,"total_tokens":%d}}`, n, n+3)
}

func drain(t *testing.T, s inference.Stream) []inference.Event {
	t.Helper()
	defer s.Close()
	var out []inference.Event
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, ev)
	}
}

func builtinRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	defs, err := tools.SelectBuiltins([]string{"calculator", "current_time"})
	if err != nil {
		t.Fatalf("select builtins: %v", err)
	}
	reg := tools.NewRegistry()
	if err := reg.Register(defs...); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func newModel(t *testing.T, f *fakeServer, textCalls bool) (*Model, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	l := NewLoader(Options{BaseURL: srv.URL + "/v1/", APIKey: "k", TextToolCalls: textCalls})
	f.models = []string{"m", "other"}
	mdl, err := l.Load(context.Background(), "m", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return mdl.(*Model), srv
}

func TestStreamsContentAndUsage(t *testing.T) {
	f := &fakeServer{chunks: []string{
		chunk(`{"role":"assistant","content":"Hel"}`, ""),
		chunk(`{"content":"lo"}`, ""),
		chunk(`{}`, "stop"),
		usageChunk(7),
	}}
	mdl, _ := newModel(t, f, false)
	in, err := mdl.PrepareInput(
		[]types.Message{{Role: types.RoleSystem, Content: "sys"}},
		[]types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	s, err := mdl.Generate(context.Background(), in, inference.Params{MaxTokens: 32, Temperature: inference.Temperature(0.5)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	evs := drain(t, s)
	if len(evs) != 3 || evs[0].Text != "Hel" || evs[1].Text != "lo" {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if evs[2].Kind != inference.EventInfo || evs[2].Info.TokenCount != 7 {
		t.Fatalf("expected info with usage tokens, got %+v", evs[2])
	}
	body := f.bodies[0]
	if body["model"] != "m" || body["max_completion_tokens"] != float64(32) {
		t.Fatalf("unexpected request body: %v", body)
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %v", body["messages"])
	}
}

func TestSamplingParamsReachRequest(t *testing.T) {
	f := &fakeServer{chunks: []string{chunk(`{"content":"ok"}`, "stop")}}
	mdl, _ := newModel(t, f, false)
	in, err := mdl.PrepareInput(nil, []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	runs := []inference.Params{
		{Temperature: inference.Temperature(0.5), TopK: 7, RepeatPenalty: 1.3},
		{Temperature: inference.Temperature(0)},
		{},
	}
	for _, p := range runs {
		s, err := mdl.Generate(context.Background(), in, p)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		drain(t, s)
	}
	if len(f.bodies) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(f.bodies))
	}

	first := f.bodies[0]
	if first["top_k"] != float64(7) {
		t.Fatalf("top_k = %v", first["top_k"])
	}
	if rp, _ := first["repeat_penalty"].(float64); math.Abs(rp-1.3) > 1e-6 {
		t.Fatalf("repeat_penalty = %v", first["repeat_penalty"])
	}
	if tmp, _ := first["temperature"].(float64); math.Abs(tmp-0.5) > 1e-6 {
		t.Fatalf("temperature = %v", first["temperature"])
	}

	greedy := f.bodies[1]
	if v, ok := greedy["temperature"]; !ok || v != float64(0) {
		t.Fatalf("greedy request should send temperature 0, got %v (present=%v)", v, ok)
	}
	if _, ok := greedy["top_k"]; ok {
		t.Fatal("unset top_k should not be sent")
	}

	for _, k := range []string{"temperature", "top_k", "repeat_penalty"} {
		if _, ok := f.bodies[2][k]; ok {
			t.Fatalf("default params should not send %s", k)
		}
	}
}

func TestAccumulatesToolCallDeltas(t *testing.T) {
	f := &fakeServer{chunks: []string{
		chunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calcu","arguments":"{\"a\":"}}]}`, ""),
		chunk(`{"tool_calls":[{"index":0,"function":{"name":"lator","arguments":"2,\"b\":3}"}}]}`, ""),
		chunk(`{"tool_calls":[{"index":1,"id":"call_2","type":"function","function":{"name":"current_time","arguments":""}}]}`, ""),
		chunk(`{}`, "tool_calls"),
	}}
	mdl, _ := newModel(t, f, false)
	reg := builtinRegistry(t)
	in, err := mdl.PrepareInput(nil, []types.Message{{Role: types.RoleUser, Content: "2+3?"}}, reg.Schemas())
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	s, _ := mdl.Generate(context.Background(), in, inference.Params{})
	evs := drain(t, s)
	if len(evs) != 3 {
		t.Fatalf("expected 2 calls and info, got %+v", evs)
	}
	c := evs[0].Call
	if evs[0].Kind != inference.EventToolCall || c.ID != "call_1" || c.Name != "calculator" || c.Arguments["a"] != float64(2) || c.Arguments["b"] != float64(3) {
		t.Fatalf("unexpected first call: %+v", evs[0])
	}
	if evs[1].Call.Name != "current_time" || len(evs[1].Call.Arguments) != 0 {
		t.Fatalf("unexpected second call: %+v", evs[1])
	}
	// no usage chunk: token count falls back to content chunks
	if evs[2].Info.TokenCount != 0 {
		t.Fatalf("expected zero tokens, got %+v", evs[2].Info)
	}
	toolsSent, _ := f.bodies[0]["tools"].([]any)
	if len(toolsSent) != 2 {
		t.Fatalf("expected 2 tools in request, got %v", f.bodies[0]["tools"])
	}
}

func TestTextToolCallsParsedFromContent(t *testing.T) {
	f := &fakeServer{chunks: []string{
		chunk(`{"content":"ok <tool_"}`, ""),
		chunk(`{"content":"call>{\"name\":\"current_time\",\"arguments\":{}}</tool_call>"}`, ""),
		chunk(`{}`, "stop"),
	}}
	mdl, _ := newModel(t, f, true)
	reg := builtinRegistry(t)
	in, _ := mdl.PrepareInput(nil, []types.Message{{Role: types.RoleUser, Content: "time"}}, reg.Schemas())
	s, _ := mdl.Generate(context.Background(), in, inference.Params{})
	evs := drain(t, s)
	if len(evs) != 3 || evs[0].Text != "ok " || evs[1].Call.Name != "current_time" {
		t.Fatalf("unexpected events: %+v", evs)
	}
	if evs[2].Info.TokenCount != 2 {
		t.Fatalf("expected chunk-count fallback of 2, got %d", evs[2].Info.TokenCount)
	}
}

func TestPrepareInputConvertsToolTurns(t *testing.T) {
	mdl := NewModel(NewClient(Options{}), "m", false)
	in, err := mdl.PrepareInput(nil, []types.Message{
		{Role: types.RoleUser, Content: "q"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCallRef{{ID: "c1", Name: "calculator"}}},
		{Role: types.RoleTool, ToolCallID: "c1", Name: "calculator", Content: `{"result":5}`},
	}, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	req := in.(request)
	if len(req.messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.messages))
	}
	am := req.messages[1].OfAssistant
	if am == nil || len(am.ToolCalls) != 1 || am.ToolCalls[0].Function.Arguments != "{}" {
		t.Fatalf("unexpected assistant message: %+v", am)
	}
	if req.messages[2].OfTool == nil || req.messages[2].OfTool.ToolCallID != "c1" {
		t.Fatalf("unexpected tool message: %+v", req.messages[2])
	}
	_, err = mdl.PrepareInput(nil, []types.Message{{Role: "bogus"}}, nil)
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("expected role error, got %v", err)
	}
}

func TestLoadUnknownModel(t *testing.T) {
	f := &fakeServer{}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()
	f.models = []string{"a", "b"}
	_, err := NewLoader(Options{BaseURL: srv.URL + "/v1/"}).Load(context.Background(), "zzz", nil)
	if !inference.IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestLoadUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	_, err := NewLoader(Options{BaseURL: url + "/v1/"}).Load(context.Background(), "m", nil)
	if !inference.IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}
