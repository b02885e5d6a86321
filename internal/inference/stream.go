package inference

import (
	"context"
	"io"
	"sync"
)

// Pipe runs produce on its own goroutine and exposes the events it emits as
// a Stream. emit returns false once the stream is closed or ctx is done;
// produce should return promptly after that. A nil return from produce ends
// the stream with io.EOF.
func Pipe(ctx context.Context, produce func(ctx context.Context, emit func(Event) bool) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &pipeStream{events: make(chan Event), cancel: cancel}
	go func() {
		err := produce(ctx, func(ev Event) bool {
			select {
			case s.events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		})
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.events)
	}()
	return s
}

type pipeStream struct {
	events chan Event
	cancel context.CancelFunc
	mu     sync.Mutex
	err    error
}

func (s *pipeStream) Next() (Event, error) {
	ev, ok := <-s.events
	if ok {
		return ev, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Event{}, s.err
	}
	return Event{}, io.EOF
}

// Close cancels the producer and waits for it to stop.
func (s *pipeStream) Close() error {
	s.cancel()
	for range s.events {
	}
	return nil
}
