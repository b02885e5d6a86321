package orchestrator

import (
	"sync"

	"streamd/pkg/types"
)

// History is the conversation of a session. It only grows during a turn;
// Reset and Replace are for the session between turns.
type History struct {
	mu   sync.Mutex
	msgs []types.Message
}

func NewHistory(initial ...types.Message) *History {
	return &History{msgs: append([]types.Message(nil), initial...)}
}

func (h *History) Append(msgs ...types.Message) {
	h.mu.Lock()
	h.msgs = append(h.msgs, msgs...)
	h.mu.Unlock()
}

// Snapshot returns a copy of the messages.
func (h *History) Snapshot() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Message(nil), h.msgs...)
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func (h *History) Reset() {
	h.mu.Lock()
	h.msgs = nil
	h.mu.Unlock()
}

// Replace swaps the whole history for msgs.
func (h *History) Replace(msgs []types.Message) {
	h.mu.Lock()
	h.msgs = append([]types.Message(nil), msgs...)
	h.mu.Unlock()
}
