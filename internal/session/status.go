package session

import (
	"streamd/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.cfg.Clock()
	queued := len(m.queueCh) - len(m.genCh)
	if queued < 0 {
		queued = 0
	}
	return types.StatusResponse{
		State:            string(m.state),
		ModelID:          m.modelID,
		LoadProgress:     m.loadProgress,
		HistoryLen:       m.history.Len(),
		Tools:            m.tools.Names(),
		QueueLen:         queued,
		MaxQueueDepth:    cap(m.queueCh),
		LastError:        m.lastErr,
		LastStats:        m.lastStats,
		LoadsTotal:       m.loadsTotal,
		GenerationsTotal: m.gensTotal,
		UptimeSeconds:    int64(now.Sub(m.startTime).Seconds()),
		ServerTimeUnix:   now.Unix(),
	}
}
