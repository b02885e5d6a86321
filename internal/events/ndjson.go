package events

import (
	"encoding/json"
	"errors"
	"io"
	"sync"

	"streamd/pkg/types"
)

// NDJSON writes each event as one JSON line and flushes after every line.
// The first write error is kept and later events are dropped. An event that
// cannot be encoded is logged and skipped.
type NDJSON struct {
	mu    sync.Mutex
	enc   *json.Encoder
	flush func()
	err   error
}

// NewNDJSON returns an NDJSON emitter over w. flush may be nil.
func NewNDJSON(w io.Writer, flush func()) *NDJSON {
	return &NDJSON{enc: json.NewEncoder(w), flush: flush}
}

func (n *NDJSON) Emit(e types.StreamEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return
	}
	if err := n.enc.Encode(e); err != nil {
		if isEncodeError(err) {
			logDropped(e, err)
			return
		}
		n.err = err
		return
	}
	safeFlush(n.flush)
}

func isEncodeError(err error) bool {
	var ute *json.UnsupportedTypeError
	var uve *json.UnsupportedValueError
	var me *json.MarshalerError
	return errors.As(err, &ute) || errors.As(err, &uve) || errors.As(err, &me)
}

// safeFlush calls flush, ignoring a panicking flusher.
func safeFlush(flush func()) {
	if flush == nil {
		return
	}
	defer func() { _ = recover() }()
	flush()
}

// Err returns the first write error, if any.
func (n *NDJSON) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}
