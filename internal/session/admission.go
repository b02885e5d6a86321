package session

import (
	"context"
	"time"
)

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (m *Manager) beginGeneration(ctx context.Context) (func(), error) {
	m.mu.Lock()
	state, modelID := m.state, m.modelID
	m.mu.Unlock()
	if state != StateReady && state != StateGenerating {
		return func() {}, ErrNotLoaded
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}

	timer := time.NewTimer(m.cfg.MaxWait)
	defer timer.Stop()
	select {
	case m.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		backpressureTotal.WithLabelValues("queue_full").Inc()
		return func() {}, tooBusyError{modelID: modelID}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-m.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	timer2 := time.NewTimer(m.cfg.MaxWait)
	defer timer2.Stop()
	select {
	case m.genCh <- struct{}{}:
		acquired = true
		return func() { <-m.genCh; <-m.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer2.C:
		backpressureTotal.WithLabelValues("wait_timeout").Inc()
		return func() {}, tooBusyError{modelID: modelID}
	}
}

// waitDrain waits up to DrainTimeout for the in-flight generation to finish.
func (m *Manager) waitDrain(modelID string) {
	deadline := time.Now().Add(m.cfg.DrainTimeout)
	for len(m.genCh) > 0 {
		if time.Now().After(deadline) {
			m.cfg.Logger.Warn().Str("model", modelID).Dur("timeout", m.cfg.DrainTimeout).Msg("generation did not drain in time")
			m.publish(Event{Name: EventDrainTimeout, ModelID: modelID, Fields: map[string]any{"inflight": len(m.genCh), "queue": len(m.queueCh)}})
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
