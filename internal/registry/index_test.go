package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/inference"
)

type fakeDownloads struct {
	dir string
	ids []string
}

func (f fakeDownloads) ListDownloaded() ([]string, error) { return f.ids, nil }
func (f fakeDownloads) ModelDir(id string) string         { return filepath.Join(f.dir, id) }
func (f fakeDownloads) GGUFPath(id string) (string, bool) {
	for _, d := range f.ids {
		if d == id {
			return filepath.Join(f.dir, id, "model.gguf"), true
		}
	}
	return "", false
}

func touch(t *testing.T, p string) {
	t.Helper()
	if err := os.WriteFile(p, nil, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
}

func TestIndexList(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "local.gguf"))
	dl := fakeDownloads{dir: "/dl", ids: []string{"mlx-community/Qwen3-1.7B-4bit", "someone/custom"}}
	x := NewIndex(dir, dl, zerolog.Nop())

	got := x.List()
	if len(got) != 28 {
		t.Fatalf("expected catalog+2, got %d", len(got))
	}
	byID := map[string]int{}
	for i, m := range got {
		byID[m.ID] = i
	}
	q := got[byID["mlx-community/Qwen3-1.7B-4bit"]]
	if !q.Downloaded || q.Path != filepath.Join("/dl", "mlx-community/Qwen3-1.7B-4bit") {
		t.Fatalf("downloaded catalog entry: %+v", q)
	}
	if c := got[byID["someone/custom"]]; !c.Downloaded || byID["someone/custom"] != 26 {
		t.Fatalf("custom entry: %+v at %d", c, byID["someone/custom"])
	}
	if l := got[len(got)-1]; l.ID != "local.gguf" || !l.Downloaded {
		t.Fatalf("local entry: %+v", l)
	}
}

func TestIndexListMissingDir(t *testing.T) {
	x := NewIndex(filepath.Join(t.TempDir(), "absent"), nil, zerolog.Nop())
	if got := x.List(); len(got) != 26 {
		t.Fatalf("expected catalog only, got %d", len(got))
	}
}

func TestIndexResolve(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "llama.Q4_K_M.gguf"))
	other := filepath.Join(t.TempDir(), "elsewhere.gguf")
	touch(t, other)
	x := NewIndex(dir, fakeDownloads{dir: "/dl", ids: []string{"org/m"}}, zerolog.Nop())

	cases := map[string]string{
		"llama.Q4_K_M.gguf": filepath.Join(dir, "llama.Q4_K_M.gguf"),
		"llama.Q4_K_M":      filepath.Join(dir, "llama.Q4_K_M.gguf"),
		other:               other,
		"org/m":             filepath.Join("/dl", "org/m", "model.gguf"),
	}
	for id, want := range cases {
		got, err := x.Resolve(id)
		if err != nil || got != want {
			t.Fatalf("resolve %q = %q, %v; want %q", id, got, err, want)
		}
	}
	if _, err := x.Resolve("missing"); !inference.IsModelNotFound(err) {
		t.Fatalf("expected model not found, got %v", err)
	}
}

func TestIndexWatchRefreshes(t *testing.T) {
	dir := t.TempDir()
	x := NewIndex(dir, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := x.Watch(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if len(x.List()) != 26 {
		t.Fatalf("expected no local models yet")
	}
	touch(t, filepath.Join(dir, "new.gguf"))
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := x.Resolve("new"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("new model never appeared")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIndexWatchMissingDir(t *testing.T) {
	x := NewIndex(filepath.Join(t.TempDir(), "absent"), nil, zerolog.Nop())
	if err := x.Watch(context.Background()); err == nil {
		t.Fatalf("expected error watching a missing dir")
	}
}
