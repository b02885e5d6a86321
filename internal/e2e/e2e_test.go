package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"streamd/internal/inference"
	"streamd/internal/inference/scripted"
	"streamd/internal/session"
	"streamd/pkg/types"
)

func TestE2E_Models_Load_Generate_Status(t *testing.T) {
	dir, _ := createTempModelsDir(t, "alpha.gguf", "beta.gguf", "notes.txt")
	srv, _ := newServer(t, dir, scripted.EchoLoader())

	resp, body := httpGet(t, srv.URL+"/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/models status=%d", resp.StatusCode)
	}
	var mr types.ModelsResponse
	if err := json.Unmarshal(body, &mr); err != nil {
		t.Fatalf("models json: %v", err)
	}
	local := 0
	for _, m := range mr.Models {
		if m.ID == "alpha.gguf" || m.ID == "beta.gguf" {
			local++
			if !m.Downloaded || m.Path == "" {
				t.Fatalf("local model %+v", m)
			}
		}
	}
	if local != 2 {
		t.Fatalf("expected both local models, got %d of %d", local, len(mr.Models))
	}

	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before load=%d", resp.StatusCode)
	}
	resp, body = httpPostJSON(t, srv.URL+"/load", `{"model_id":"alpha.gguf","tools":["current_time"]}`)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"done":true`) {
		t.Fatalf("load: %d %s", resp.StatusCode, body)
	}
	if resp, _ := httpGet(t, srv.URL+"/readyz"); resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz after load=%d", resp.StatusCode)
	}

	resp, body = httpPostJSON(t, srv.URL+"/generate", `{"prompt":"say hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%s", ct)
	}
	evs := decodeEvents(t, body)
	end, ok := evs[len(evs)-1].(types.GenerationEndEvent)
	if !ok || end.Content != "say hi" {
		t.Fatalf("last event %+v", evs[len(evs)-1])
	}

	_, body = httpGet(t, srv.URL+"/status")
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status json: %v", err)
	}
	if st.State != "ready" || st.ModelID != "alpha.gguf" || st.HistoryLen != 2 || st.GenerationsTotal != 1 {
		t.Fatalf("status=%+v", st)
	}
}

func TestE2E_ToolCallRoundTrip(t *testing.T) {
	dir, _ := createTempModelsDir(t)
	srv, mgr := newServer(t, dir, scripted.EchoLoader())
	if resp, body := httpPostJSON(t, srv.URL+"/load", `{"model_id":"echo","tools":["current_time"]}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("load: %d %s", resp.StatusCode, body)
	}
	_, body := httpPostJSON(t, srv.URL+"/generate", `{"prompt":"time please"}`)
	evs := decodeEvents(t, body)
	got := eventTypes(evs)
	want := []types.EventType{
		types.EventGenerationStart,
		types.EventToolCallStart,
		types.EventToolCallExecuting,
		types.EventToolCallCompleted,
	}
	for i, w := range want {
		if i >= len(got) || got[i] != w {
			t.Fatalf("events=%v", got)
		}
	}
	if got[len(got)-1] != types.EventGenerationEnd {
		t.Fatalf("events=%v", got)
	}
	start := evs[1].(types.ToolCallStartEvent)
	done := evs[3].(types.ToolCallCompletedEvent)
	if start.Name != "current_time" || start.ID == "" || done.ID != start.ID {
		t.Fatalf("start=%+v done=%+v", start, done)
	}
	end := evs[len(evs)-1].(types.GenerationEndEvent)
	if !strings.HasPrefix(end.Content, "The tool said: ") {
		t.Fatalf("content=%q", end.Content)
	}
	var roles []types.Role
	for _, m := range mgr.History() {
		roles = append(roles, m.Role)
	}
	if len(roles) != 4 || roles[2] != types.RoleTool {
		t.Fatalf("roles=%v", roles)
	}
}

// slowLoader hands out models that emit one chunk every delay, forever.
func slowLoader(delay time.Duration) inference.Loader {
	return &scripted.Loader{New: func(string) (inference.Model, error) {
		p := make(scripted.Pass, 0, 200)
		for i := 0; i < 200; i++ {
			p = append(p, inference.Chunk("x"))
		}
		return &scripted.Model{Passes: []scripted.Pass{p}, Delay: delay}, nil
	}}
}

func TestE2E_StopEndsStream(t *testing.T) {
	dir, _ := createTempModelsDir(t)
	srv, mgr := newServer(t, dir, slowLoader(20*time.Millisecond))
	httpPostJSON(t, srv.URL+"/load", `{"model_id":"slow"}`)

	var wg sync.WaitGroup
	var body []byte
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := http.Post(srv.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"go"}`))
		if err != nil {
			return
		}
		defer resp.Body.Close()
		body, _ = io.ReadAll(resp.Body)
	}()
	deadline := time.Now().Add(3 * time.Second)
	for !mgr.IsGenerating() {
		if time.Now().After(deadline) {
			t.Fatalf("generation did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(60 * time.Millisecond)
	if resp, _ := httpPostJSON(t, srv.URL+"/stop", ``); resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status=%d", resp.StatusCode)
	}
	wg.Wait()

	evs := decodeEvents(t, body)
	end, ok := evs[len(evs)-1].(types.GenerationEndEvent)
	if !ok {
		t.Fatalf("stream did not end with generation_end: %v", eventTypes(evs))
	}
	if n := len(end.Content); n == 0 || n >= 200 {
		t.Fatalf("partial content length=%d", n)
	}
	if mgr.State() != session.StateReady {
		t.Fatalf("state=%s", mgr.State())
	}
}

func TestE2E_Backpressure429(t *testing.T) {
	dir, _ := createTempModelsDir(t)
	srv, mgr := newServer(t, dir, slowLoader(20*time.Millisecond), func(c *session.Config) {
		c.MaxQueueDepth = 1
		c.MaxWait = 50 * time.Millisecond
	})
	httpPostJSON(t, srv.URL+"/load", `{"model_id":"slow"}`)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := http.Post(srv.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"first"}`))
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}()
	deadline := time.Now().Add(3 * time.Second)
	for !mgr.IsGenerating() {
		if time.Now().After(deadline) {
			t.Fatalf("generation did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, body := httpPostJSON(t, srv.URL+"/generate", `{"prompt":"second"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d %s", resp.StatusCode, body)
	}
	mgr.Stop()
	<-done
}

func TestE2E_UnloadThenGenerateConflicts(t *testing.T) {
	dir, _ := createTempModelsDir(t)
	srv, _ := newServer(t, dir, scripted.EchoLoader())
	httpPostJSON(t, srv.URL+"/load", `{"model_id":"echo"}`)
	if resp, _ := httpPostJSON(t, srv.URL+"/unload", ``); resp.StatusCode != http.StatusOK {
		t.Fatalf("unload status=%d", resp.StatusCode)
	}
	resp, body := httpPostJSON(t, srv.URL+"/generate", `{"prompt":"hi"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", resp.StatusCode, body)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code != http.StatusConflict {
		t.Fatalf("error=%+v err=%v", er, err)
	}
}
