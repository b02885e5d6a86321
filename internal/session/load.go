package session

import (
	"context"
	"errors"

	"streamd/internal/inference"
	"streamd/internal/orchestrator"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

// LoadOptions configure the session created by Load.
type LoadOptions struct {
	// SystemPrompt replaces Config.SystemPrompt when non-empty.
	SystemPrompt string
	Tools        []tools.Definition
	// InitialHistory seeds the conversation.
	InitialHistory []types.Message
	// Stateless starts every turn from InitialHistory and drops the turn's
	// messages once it ends.
	Stateless bool
	// Params, when non-nil, replace Config.Params for this session.
	Params     *inference.Params
	OnProgress func(float64)
}

// Load replaces the current session with modelID. It cancels any pending
// load and the in-flight generation, drains, closes the previous model and
// clears history before asking the loader for the new model. A Load that is
// replaced by a newer Load or an Unload returns ErrLoadSuperseded.
func (m *Manager) Load(ctx context.Context, modelID string, opts LoadOptions) error {
	if m.cfg.Loader == nil {
		return inference.ErrDependencyUnavailable("no inference runtime configured")
	}
	if modelID == "" {
		return inference.ErrModelNotFound("(unspecified)")
	}
	// Tool definitions are validated before the current session is torn down.
	reg := tools.NewRegistry()
	if err := reg.Register(opts.Tools...); err != nil {
		return err
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.epoch++
	ep := m.epoch
	prevLoad, prevGen := m.loadCancel, m.genCancel
	prevModel, prevID := m.model, m.modelID
	m.loadCancel, m.genCancel = cancel, nil
	m.resetSessionLocked()
	m.state = StateLoading
	m.modelID = modelID
	m.lastErr = ""
	m.mu.Unlock()

	if prevLoad != nil {
		prevLoad()
	}
	if prevGen != nil {
		prevGen()
	}
	m.waitDrain(prevID)
	if prevModel != nil {
		if err := prevModel.Close(); err != nil {
			m.cfg.Logger.Warn().Err(err).Str("model", prevID).Msg("close previous model")
		}
	}

	log := m.cfg.Logger.With().Str("model", modelID).Logger()
	log.Info().Msg("load start")
	m.publish(Event{Name: EventLoadStart, ModelID: modelID})
	m.logMem("load_start")
	start := m.cfg.Clock()

	progress := func(p float64) {
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		m.mu.Lock()
		if m.epoch != ep || p < m.loadProgress {
			m.mu.Unlock()
			return
		}
		m.loadProgress = p
		m.mu.Unlock()
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
		m.publish(Event{Name: EventLoadProgress, ModelID: modelID, Fields: map[string]any{"progress": p}})
	}
	mdl, err := m.cfg.Loader.Load(loadCtx, modelID, progress)

	m.mu.Lock()
	if m.epoch != ep {
		m.mu.Unlock()
		if mdl != nil {
			_ = mdl.Close()
		}
		log.Info().Msg("load superseded")
		loadsTotal.WithLabelValues("superseded").Inc()
		m.publish(Event{Name: EventLoadSuperseded, ModelID: modelID})
		return ErrLoadSuperseded
	}
	m.loadCancel = nil
	if err == nil && mdl == nil {
		err = errors.New("loader returned no model")
	}
	if err != nil {
		m.resetSessionLocked()
		m.state = StateUnloaded
		m.lastErr = err.Error()
		m.mu.Unlock()
		log.Error().Err(err).Msg("load failed")
		loadsTotal.WithLabelValues("error").Inc()
		m.publish(Event{Name: EventLoadFailed, ModelID: modelID, Fields: map[string]any{"error": err.Error()}})
		return err
	}
	m.model = mdl
	m.tools = reg
	m.history = orchestrator.NewHistory(opts.InitialHistory...)
	m.stateless = opts.Stateless
	m.initial = append([]types.Message(nil), opts.InitialHistory...)
	m.systemPrompt = m.cfg.SystemPrompt
	if opts.SystemPrompt != "" {
		m.systemPrompt = opts.SystemPrompt
	}
	m.params = m.cfg.Params
	if opts.Params != nil {
		m.params = *opts.Params
	}
	reported := m.loadProgress
	m.loadProgress = 1
	m.state = StateReady
	m.loadsTotal++
	m.mu.Unlock()

	took := m.cfg.Clock().Sub(start)
	log.Info().Dur("dur", took).Strs("tools", reg.Names()).Msg("load ready")
	loadsTotal.WithLabelValues("ok").Inc()
	loadDuration.Observe(took.Seconds())
	if opts.OnProgress != nil && reported < 1 {
		opts.OnProgress(1)
	}
	m.publish(Event{Name: EventLoadReady, ModelID: modelID, Fields: map[string]any{"tools": reg.Names()}})
	m.logMem("load_ready")
	return nil
}
