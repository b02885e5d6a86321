package session

import (
	"context"
	"sync"
	"time"

	"streamd/internal/inference"
	"streamd/internal/orchestrator"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

// State represents the lifecycle state of a session.
type State string

const (
	StateUnloaded   State = "unloaded"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateGenerating State = "generating"
)

type Manager struct {
	cfg Config

	mu           sync.Mutex
	state        State
	epoch        uint64
	modelID      string
	model        inference.Model
	systemPrompt string
	params       inference.Params
	tools        *tools.Registry
	history      *orchestrator.History
	stateless    bool
	initial      []types.Message
	loadProgress float64
	loadCancel   context.CancelFunc
	genCancel    context.CancelFunc
	lastErr      string
	lastStats    types.GenerationStats
	hasStats     bool
	loadsTotal   uint64
	gensTotal    uint64
	startTime    time.Time
	publisher    EventPublisher

	// Queueing primitives
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
}

// resetSessionLocked drops every per-model resource. Caller holds mu.
func (m *Manager) resetSessionLocked() {
	m.model = nil
	m.modelID = ""
	m.systemPrompt = ""
	m.params = inference.Params{}
	m.tools = tools.NewRegistry()
	m.history = orchestrator.NewHistory()
	m.stateless = false
	m.initial = nil
	m.loadProgress = 0
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsLoaded reports whether a model is ready or generating.
func (m *Manager) IsLoaded() bool {
	s := m.State()
	return s == StateReady || s == StateGenerating
}

func (m *Manager) IsGenerating() bool { return m.State() == StateGenerating }

// Ready is IsLoaded, named for readiness probes.
func (m *Manager) Ready() bool { return m.IsLoaded() }

// ModelID returns the loaded or loading model id, or "".
func (m *Manager) ModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelID
}

// LastGenerationStats returns the stats of the previous generation; ok is
// false before the first one completes.
func (m *Manager) LastGenerationStats() (types.GenerationStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStats, m.hasStats
}

// History returns a copy of the conversation.
func (m *Manager) History() []types.Message {
	m.mu.Lock()
	h := m.history
	m.mu.Unlock()
	return h.Snapshot()
}

// Tools lists the registered tool names in registration order.
func (m *Manager) Tools() []string {
	m.mu.Lock()
	r := m.tools
	m.mu.Unlock()
	return r.Names()
}
