// Package session owns the loaded model of a server and everything derived
// from it: the tool registry, the conversation history, the in-flight
// generation and the last generation stats. It is structured into small
// files by concern:
//
//   - manager.go: core Manager type and accessors.
//   - config.go: Config and package defaults; NewWithConfig applies defaults.
//   - errors.go: error values and helpers (IsTooBusy, IsLoadSuperseded, ...).
//   - events.go, eventpub_memory.go: lifecycle EventPublisher and a test recorder.
//   - admission.go: queueing and the single in-flight generation slot.
//   - load.go: Load and supersession of pending loads.
//   - generate.go: Generate/Stream/StreamWithEvents and Stop.
//   - unload.go: Unload, drain and history clearing.
//   - status.go: Status reporting.
//   - metrics.go: Prometheus collectors.
//   - memory.go: heap statistics logging when Debug is set.
//
// A Manager moves through unloaded, loading, ready and generating. At most
// one load and one generation are active; a newer Load or an Unload cancels
// both, and an epoch counter keeps a stale task from overwriting newer state.
package session
