package llamaserver

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"streamd/internal/inference"
	"streamd/pkg/types"
)

// buildFakeServer builds testdata/fake_llama_server.go and returns its path.
func buildFakeServer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("short mode")
	}
	bin := filepath.Join(t.TempDir(), "fake_llama_server")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_llama_server.go")
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake server: %v: %s", err, string(out))
	}
	return bin
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func resolveGGUF(id string) (string, error) { return id + ".gguf", nil }

func TestLoadGenerateAndClose(t *testing.T) {
	bin := buildFakeServer(t)
	s := New(Options{Bin: bin, Resolve: resolveGGUF, PortStart: 31500, PortEnd: 31520})
	defer s.StopAll()

	var last float64
	mdl, err := s.Load(testCtx(t), "m1", func(p float64) { last = p })
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if last != 1 {
		t.Fatalf("expected final progress 1, got %v", last)
	}
	pid, _, ready, ok := s.procInfo("m1.gguf")
	if !ok || !ready || pid <= 0 {
		t.Fatalf("expected ready process, got pid=%d ready=%v ok=%v", pid, ready, ok)
	}

	in, err := mdl.PrepareInput(nil, []types.Message{{Role: types.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	stream, err := mdl.Generate(testCtx(t), in, inference.Params{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var text strings.Builder
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		text.WriteString(ev.Text)
	}
	_ = stream.Close()
	if text.String() != "hello from fake" {
		t.Fatalf("unexpected text %q", text.String())
	}

	if err := mdl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, _, _, ok := s.procInfo("m1.gguf"); ok {
		t.Fatalf("expected process removed after Close")
	}
}

func TestEarlyExitIncludesStderr(t *testing.T) {
	bin := buildFakeServer(t)
	s := New(Options{Bin: bin, Resolve: resolveGGUF, ExtraArgs: []string{"--fail"}})
	_, err := s.Load(testCtx(t), "m", nil)
	if err == nil || !strings.Contains(err.Error(), "failed to load model") {
		t.Fatalf("expected early exit error with stderr tail, got %v", err)
	}
	if _, _, _, ok := s.procInfo("m.gguf"); ok {
		t.Fatalf("expected no proc entry after early exit")
	}
}

func TestMissingBinaryIsDependencyUnavailable(t *testing.T) {
	s := New(Options{Bin: filepath.Join(t.TempDir(), "nope"), Resolve: resolveGGUF})
	_, err := s.Load(context.Background(), "m", nil)
	if !inference.IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestResolveErrorPropagates(t *testing.T) {
	want := inference.ErrModelNotFound("x")
	s := New(Options{Resolve: func(string) (string, error) { return "", want }})
	if _, err := s.Load(context.Background(), "x", nil); !inference.IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestIsHealthy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/models" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()
	s := New(Options{})
	if !s.isHealthy(context.Background(), ts.URL, 500*time.Millisecond) {
		t.Fatalf("expected healthy for %s", ts.URL)
	}
	if s.isHealthy(context.Background(), "http://127.0.0.1:1", 100*time.Millisecond) {
		t.Fatalf("expected unhealthy for unreachable host")
	}
}

func TestPickPortInRangeSkipsBusy(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	busy := l.Addr().(*net.TCPAddr).Port
	if _, err := pickPortInRange("127.0.0.1", busy, busy); err == nil {
		t.Fatalf("expected error for fully busy range")
	}
	p, err := pickFreePort("127.0.0.1")
	if err != nil || p <= 0 {
		t.Fatalf("pickFreePort: %d %v", p, err)
	}
}

func TestArgs(t *testing.T) {
	s := New(Options{CtxSize: 4096, NGL: 99, Threads: 8, Jinja: true, ExtraArgs: []string{"--flash-attn"}})
	got := strings.Join(s.args("/m.gguf", 1234), " ")
	want := "-m /m.gguf --host 127.0.0.1 --port 1234 -c 4096 -ngl 99 -t 8 --jinja --flash-attn"
	if got != want {
		t.Fatalf("args:\n got %q\nwant %q", got, want)
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	tb := &tailBuffer{max: 4}
	_, _ = tb.Write([]byte("abc"))
	_, _ = tb.Write([]byte("def"))
	if tb.String() != "cdef" {
		t.Fatalf("tail: %q", tb.String())
	}
}
