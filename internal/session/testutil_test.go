package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/inference"
	"streamd/internal/inference/scripted"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// loaderFor hands out mdl for every load.
func loaderFor(mdl inference.Model) *scripted.Loader {
	return &scripted.Loader{New: func(string) (inference.Model, error) { return mdl, nil }}
}

func newManager(t *testing.T, l inference.Loader, mutate ...func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		Loader:       l,
		Logger:       zerolog.Nop(),
		DrainTimeout: time.Second,
	}
	for _, f := range mutate {
		f(&cfg)
	}
	return NewWithConfig(cfg)
}

func mustLoad(t *testing.T, m *Manager, id string, opts LoadOptions) {
	t.Helper()
	if err := m.Load(testCtx(t), id, opts); err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
