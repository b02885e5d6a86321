package e2e

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/download"
	"streamd/internal/httpapi"
	"streamd/internal/inference"
	"streamd/internal/registry"
	"streamd/internal/session"
	"streamd/pkg/types"
)

// createTempModelsDir creates a temporary directory populated with empty .gguf files
// and returns the directory path and the list of model IDs (filenames).
func createTempModelsDir(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir, names
}

// newServer serves a real session over l, with models listed from modelsDir.
func newServer(t *testing.T, modelsDir string, l inference.Loader, mutate ...func(*session.Config)) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := session.Config{
		Loader:       l,
		Logger:       zerolog.Nop(),
		DrainTimeout: time.Second,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	mgr := session.NewWithConfig(cfg)
	t.Cleanup(func() { _ = mgr.Unload() })
	dl := download.New(download.Options{Dir: t.TempDir()})
	idx := registry.NewIndex(modelsDir, dl, zerolog.Nop())
	svc := httpapi.NewSessionService(mgr, idx)
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(srv.Close)
	return srv, mgr
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

// decodeEvents parses an NDJSON StreamEvent body.
func decodeEvents(t *testing.T, body []byte) []types.StreamEvent {
	t.Helper()
	var out []types.StreamEvent
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		ev, err := types.DecodeStreamEvent(sc.Bytes())
		if err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

func eventTypes(evs []types.StreamEvent) []types.EventType {
	out := make([]types.EventType, len(evs))
	for i, e := range evs {
		out[i] = e.EventType()
	}
	return out
}
