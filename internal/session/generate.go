package session

import (
	"context"
	"fmt"

	"streamd/internal/events"
	"streamd/internal/orchestrator"
)

// Generate runs a turn and returns its visible text.
func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	return m.StreamWithEvents(ctx, prompt, nil)
}

// Stream runs a turn, calling onToken with each visible token.
func (m *Manager) Stream(ctx context.Context, prompt string, onToken func(string)) (string, error) {
	var em events.Emitter
	if onToken != nil {
		em = events.Tokens(onToken)
	}
	return m.StreamWithEvents(ctx, prompt, em)
}

// StreamWithEvents runs a turn, delivering every StreamEvent to em.
func (m *Manager) StreamWithEvents(ctx context.Context, prompt string, em events.Emitter) (string, error) {
	res, err := m.Turn(ctx, prompt, em)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// Turn runs one generation turn and returns the full result. Cancellation,
// through ctx or Stop, truncates the turn without error.
func (m *Manager) Turn(ctx context.Context, prompt string, em events.Emitter) (orchestrator.TurnResult, error) {
	m.mu.Lock()
	ep := m.epoch
	m.mu.Unlock()

	release, err := m.beginGeneration(ctx)
	if err != nil {
		return orchestrator.TurnResult{}, err
	}
	defer release()

	m.mu.Lock()
	if m.epoch != ep || m.state != StateReady {
		m.mu.Unlock()
		return orchestrator.TurnResult{}, fmt.Errorf("session changed while queued: %w", ErrNotLoaded)
	}
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.genCancel = cancel
	m.state = StateGenerating
	modelID := m.modelID
	orch := orchestrator.New(orchestrator.Config{
		Model:        m.model,
		Tools:        m.tools,
		History:      m.history,
		SystemPrompt: m.systemPrompt,
		Params:       m.params,
		MaxDepth:     m.cfg.MaxToolDepth,
		Tags:         m.cfg.Tags,
		Logger:       m.cfg.Logger.With().Str("model", modelID).Logger(),
		Clock:        m.cfg.Clock,
	})
	m.mu.Unlock()

	m.logMem("generate_start")
	inflightGenerations.Inc()
	res, err := orch.RunTurn(genCtx, prompt, em)
	inflightGenerations.Dec()

	m.mu.Lock()
	if m.epoch == ep {
		m.state = StateReady
		m.genCancel = nil
		if m.stateless {
			m.history.Replace(m.initial)
		}
		if err != nil {
			m.lastErr = err.Error()
		} else {
			m.lastStats = res.Stats
			m.hasStats = true
			m.gensTotal++
		}
	}
	m.mu.Unlock()

	observeTurn(res, err)
	m.logMem("generate_end")
	if err != nil {
		m.cfg.Logger.Error().Err(err).Str("model", modelID).Msg("generation failed")
		return orchestrator.TurnResult{}, err
	}
	m.cfg.Logger.Info().
		Str("model", modelID).
		Float64("tokens", res.Stats.TokenCount).
		Float64("tps", res.Stats.TokensPerSecond).
		Int("passes", res.Passes).
		Bool("cancelled", res.Cancelled).
		Msg("generation done")
	m.publish(Event{Name: EventGenerateDone, ModelID: modelID, Fields: map[string]any{"cancelled": res.Cancelled, "passes": res.Passes}})
	return res, nil
}

// Stop cancels the in-flight generation, if any. It is idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.genCancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
