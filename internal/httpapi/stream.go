package httpapi

import (
	"errors"
	"net/http"
	"sync"
)

var errStreamClosed = errors.New("stream closed")

// streamWriter commits a 200 NDJSON response on the first write. Until then
// the handler may still answer with an error status.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu      sync.Mutex
	started bool
	closed  bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	f, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: f}
}

func (s *streamWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errStreamClosed
	}
	if !s.started {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	return s.w.Write(p)
}

func (s *streamWriter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started && !s.closed && s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *streamWriter) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Close rejects later writes, such as a progress callback that outlives the
// handler.
func (s *streamWriter) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
