package session

import "errors"

// ErrNotLoaded is returned by generation calls made without a loaded model.
var ErrNotLoaded = errors.New("no model loaded")

// ErrLoadSuperseded is returned by a Load that a newer Load or an Unload
// replaced before it finished.
var ErrLoadSuperseded = errors.New("load superseded by a newer request")

// ErrGenerationInProgress rejects history changes while generating.
var ErrGenerationInProgress = errors.New("generation in progress")

func IsNotLoaded(err error) bool { return errors.Is(err, ErrNotLoaded) }

func IsLoadSuperseded(err error) bool { return errors.Is(err, ErrLoadSuperseded) }

func IsGenerationInProgress(err error) bool { return errors.Is(err, ErrGenerationInProgress) }

// tooBusyError signals queue timeout/overflow for 429 mapping.
type tooBusyError struct{ modelID string }

func (e tooBusyError) Error() string { return "too busy: " + e.modelID }

// ErrTooBusy constructs a tooBusyError.
func ErrTooBusy(modelID string) error { return tooBusyError{modelID: modelID} }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e)
}
