package session

import (
	"context"
	"errors"
	"testing"

	"streamd/internal/inference"
	"streamd/internal/inference/scripted"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

func TestNewWithConfigDefaults(t *testing.T) {
	m := NewWithConfig(Config{})
	if m.cfg.MaxQueueDepth != defaultMaxQueueDepth || cap(m.queueCh) != defaultMaxQueueDepth {
		t.Fatalf("queue depth: %d / %d", m.cfg.MaxQueueDepth, cap(m.queueCh))
	}
	if m.cfg.MaxWait != defaultMaxWait || m.cfg.DrainTimeout != defaultDrainTimeout {
		t.Fatalf("timeouts: %v %v", m.cfg.MaxWait, m.cfg.DrainTimeout)
	}
	if m.cfg.SystemPrompt != DefaultSystemPrompt {
		t.Fatalf("system prompt: %q", m.cfg.SystemPrompt)
	}
	if m.State() != StateUnloaded || m.IsLoaded() || m.Ready() {
		t.Fatalf("expected unloaded, got %s", m.State())
	}
}

func TestGenerateWithoutModel(t *testing.T) {
	m := newManager(t, loaderFor(scripted.NewModel()))
	_, err := m.Generate(testCtx(t), "hi")
	if !IsNotLoaded(err) {
		t.Fatalf("expected ErrNotLoaded, got %v", err)
	}
}

func TestLoadWithoutLoader(t *testing.T) {
	m := newManager(t, nil)
	err := m.Load(testCtx(t), "x", LoadOptions{})
	if !inference.IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestLoadAndGenerate(t *testing.T) {
	mdl := scripted.NewModel(scripted.Chunks("hello", " world"))
	m := newManager(t, loaderFor(mdl))
	mustLoad(t, m, "m1", LoadOptions{SystemPrompt: "be brief"})

	if m.State() != StateReady || m.ModelID() != "m1" {
		t.Fatalf("state=%s model=%s", m.State(), m.ModelID())
	}
	var toks []string
	out, err := m.Stream(testCtx(t), "hi", func(s string) { toks = append(toks, s) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if out != "hello world" || len(toks) != 2 {
		t.Fatalf("out=%q toks=%v", out, toks)
	}
	h := m.History()
	if len(h) != 2 || h[0].Role != types.RoleUser || h[1].Role != types.RoleAssistant || h[1].Content != "hello world" {
		t.Fatalf("history: %+v", h)
	}
	in := mdl.Inputs()[0]
	if in[0].Role != types.RoleSystem || in[0].Content != "be brief" {
		t.Fatalf("system prompt not sent: %+v", in[0])
	}
	stats, ok := m.LastGenerationStats()
	if !ok || stats.TokenCount != 2 {
		t.Fatalf("stats: %+v ok=%v", stats, ok)
	}
	if m.State() != StateReady {
		t.Fatalf("expected ready after turn, got %s", m.State())
	}
}

func TestLoadUsesSessionParams(t *testing.T) {
	mdl := scripted.NewModel(scripted.Chunks("ok"))
	m := newManager(t, loaderFor(mdl), func(c *Config) { c.Params = inference.Params{Temperature: inference.Temperature(0.7)} })
	mustLoad(t, m, "m1", LoadOptions{Params: &inference.Params{Temperature: inference.Temperature(0.1), MaxTokens: 16}})
	if _, err := m.Generate(testCtx(t), "hi"); err != nil {
		t.Fatal(err)
	}
	p := mdl.Params()[0]
	if p.Temperature == nil || *p.Temperature != 0.1 || p.MaxTokens != 16 {
		t.Fatalf("params: %+v", p)
	}
}

func TestLoadWithToolsRunsCalls(t *testing.T) {
	defs, err := tools.SelectBuiltins([]string{"calculator"})
	if err != nil {
		t.Fatal(err)
	}
	mdl := scripted.NewModel(
		scripted.Pass{inference.Call(inference.ToolCall{ID: "c1", Name: "calculator", Arguments: map[string]any{"a": 2, "b": 3, "operation": "add"}})},
		scripted.Chunks("5"),
	)
	m := newManager(t, loaderFor(mdl))
	mustLoad(t, m, "m1", LoadOptions{Tools: defs})
	if got := m.Tools(); len(got) != 1 || got[0] != "calculator" {
		t.Fatalf("tools: %v", got)
	}
	res, err := m.Turn(testCtx(t), "add", nil)
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.Content != "5" || len(res.ToolCalls) != 1 {
		t.Fatalf("result: %+v", res)
	}
	if n, _ := res.ToolCalls[0].Result["result"].Num(); n != 5 {
		t.Fatalf("tool result: %+v", res.ToolCalls[0])
	}
	roles := []types.Role{}
	for _, msg := range m.History() {
		roles = append(roles, msg.Role)
	}
	want := []types.Role{types.RoleUser, types.RoleAssistant, types.RoleTool, types.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("roles: %v", roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles: %v", roles)
		}
	}
}

func TestInvalidToolsKeepCurrentSession(t *testing.T) {
	mdl := scripted.NewModel(scripted.Chunks("ok"))
	m := newManager(t, loaderFor(mdl))
	mustLoad(t, m, "m1", LoadOptions{})
	defs, _ := tools.SelectBuiltins([]string{"calculator"})
	err := m.Load(testCtx(t), "m2", LoadOptions{Tools: append(defs, defs...)})
	if !tools.IsDuplicateToolName(err) {
		t.Fatalf("expected duplicate tool error, got %v", err)
	}
	if m.ModelID() != "m1" || m.State() != StateReady || mdl.Closed() {
		t.Fatalf("current session disturbed: model=%s state=%s closed=%v", m.ModelID(), m.State(), mdl.Closed())
	}
}

func TestLoadFailure(t *testing.T) {
	boom := errors.New("boom")
	l := &scripted.Loader{New: func(string) (inference.Model, error) { return nil, boom }}
	m := newManager(t, l)
	if err := m.Load(testCtx(t), "m1", LoadOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	st := m.Status()
	if st.State != string(StateUnloaded) || st.LastError != "boom" || st.ModelID != "" {
		t.Fatalf("status: %+v", st)
	}
}

func TestReloadReplacesSession(t *testing.T) {
	first := scripted.NewModel(scripted.Chunks("one"))
	second := scripted.NewModel(scripted.Chunks("two"))
	models := map[string]*scripted.Model{"a": first, "b": second}
	l := &scripted.Loader{New: func(id string) (inference.Model, error) { return models[id], nil }}
	m := newManager(t, l)
	mustLoad(t, m, "a", LoadOptions{})
	if _, err := m.Generate(testCtx(t), "hi"); err != nil {
		t.Fatal(err)
	}
	mustLoad(t, m, "b", LoadOptions{InitialHistory: []types.Message{{Role: types.RoleUser, Content: "earlier"}}})
	if !first.Closed() {
		t.Fatalf("previous model not closed")
	}
	h := m.History()
	if len(h) != 1 || h[0].Content != "earlier" {
		t.Fatalf("history not replaced: %+v", h)
	}
	out, err := m.Generate(testCtx(t), "hi")
	if err != nil || out != "two" {
		t.Fatalf("out=%q err=%v", out, err)
	}
}

func TestLoadSupersededByNewerLoad(t *testing.T) {
	fast := scripted.NewModel(scripted.Chunks("fast"))
	l := inference.LoaderFunc(func(ctx context.Context, id string, progress func(float64)) (inference.Model, error) {
		if id == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return fast, nil
	})
	pub := NewMemoryPublisher()
	m := newManager(t, l, func(c *Config) { c.Publisher = pub })

	errc := make(chan error, 1)
	go func() { errc <- m.Load(testCtx(t), "slow", LoadOptions{}) }()
	waitFor(t, "slow load to start", func() bool { return m.State() == StateLoading })

	mustLoad(t, m, "fast", LoadOptions{})
	if err := <-errc; !IsLoadSuperseded(err) {
		t.Fatalf("expected superseded, got %v", err)
	}
	if m.ModelID() != "fast" || m.State() != StateReady {
		t.Fatalf("model=%s state=%s", m.ModelID(), m.State())
	}
	found := false
	for _, e := range pub.Events() {
		if e.Name == EventLoadSuperseded && e.ModelID == "slow" {
			found = true
		}
	}
	if !found {
		t.Fatalf("no superseded event: %v", pub.Names())
	}
}

func TestLoadProgressMonotonic(t *testing.T) {
	mdl := scripted.NewModel()
	l := inference.LoaderFunc(func(ctx context.Context, id string, progress func(float64)) (inference.Model, error) {
		for _, p := range []float64{0, 0.5, 0.2, 2} {
			progress(p)
		}
		return mdl, nil
	})
	m := newManager(t, l)
	var got []float64
	mustLoad(t, m, "m1", LoadOptions{OnProgress: func(p float64) { got = append(got, p) }})
	want := []float64{0, 0.5, 1}
	if len(got) != len(want) {
		t.Fatalf("progress: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("progress: %v", got)
		}
	}
	if st := m.Status(); st.LoadProgress != 1 {
		t.Fatalf("load progress: %v", st.LoadProgress)
	}
}

func TestLoadReportsFinalProgress(t *testing.T) {
	l := inference.LoaderFunc(func(ctx context.Context, id string, progress func(float64)) (inference.Model, error) {
		return scripted.NewModel(), nil
	})
	m := newManager(t, l)
	var got []float64
	mustLoad(t, m, "m1", LoadOptions{OnProgress: func(p float64) { got = append(got, p) }})
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("progress: %v", got)
	}
}

func TestLifecycleEvents(t *testing.T) {
	pub := NewMemoryPublisher()
	m := newManager(t, loaderFor(scripted.NewModel(scripted.Chunks("x"))))
	m.SetEventPublisher(pub)
	mustLoad(t, m, "m1", LoadOptions{})
	if _, err := m.Generate(testCtx(t), "hi"); err != nil {
		t.Fatal(err)
	}
	if err := m.Unload(); err != nil {
		t.Fatal(err)
	}
	want := []string{EventLoadStart, EventLoadProgress, EventLoadProgress, EventLoadReady, EventGenerateDone, EventUnloadDone}
	got := pub.Names()
	if len(got) != len(want) {
		t.Fatalf("events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events: %v", got)
		}
	}
	for _, e := range pub.Events() {
		if e.ModelID != "m1" || e.Fields == nil {
			t.Fatalf("bad event: %+v", e)
		}
	}
}
