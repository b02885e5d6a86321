package session

// Unload cancels any pending load and the in-flight generation, waits up to
// DrainTimeout for the generation to finish and releases the model, tools
// and history. Unloading an unloaded session is a no-op.
func (m *Manager) Unload() error {
	m.mu.Lock()
	if m.state == StateUnloaded && m.model == nil && m.loadCancel == nil {
		m.mu.Unlock()
		return nil
	}
	m.epoch++
	loadCancel, genCancel := m.loadCancel, m.genCancel
	mdl, modelID := m.model, m.modelID
	m.loadCancel, m.genCancel = nil, nil
	m.resetSessionLocked()
	m.state = StateUnloaded
	m.mu.Unlock()

	if loadCancel != nil {
		loadCancel()
	}
	if genCancel != nil {
		genCancel()
	}
	m.waitDrain(modelID)
	var err error
	if mdl != nil {
		err = mdl.Close()
	}
	m.cfg.Logger.Info().Str("model", modelID).Msg("unloaded")
	m.publish(Event{Name: EventUnloadDone, ModelID: modelID})
	m.logMem("unload_done")
	return err
}

// ClearHistory empties the conversation. It is rejected with
// ErrGenerationInProgress while a generation runs.
func (m *Manager) ClearHistory() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateGenerating {
		return ErrGenerationInProgress
	}
	m.history.Reset()
	return nil
}
