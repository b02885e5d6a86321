// Package tools holds the tools a session exposes to the model and dispatches
// the model's tool calls to their handlers.
package tools

import (
	"context"
	"fmt"
	"sync"
)

// Handler executes a tool. Returning an error marks the call as failed; the
// model then sees a generic failure payload.
type Handler func(ctx context.Context, args Args) (Args, error)

// Definition is a tool as registered by the host application.
type Definition struct {
	Name        string
	Description string
	Parameters  []Parameter
	Handler     Handler
}

// Result is the outcome of one dispatched call. Payload is what the model
// sees; Err is set when the arguments were rejected or the handler failed.
type Result struct {
	Payload Args
	Err     error
}

// Failed reports whether the call did not succeed.
func (r Result) Failed() bool { return r.Err != nil }

// Registry is the immutable-per-session set of tools.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	defs    map[string]Definition
	schemas []Schema
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register replaces the active set with defs. Names must be unique; on any
// error the previous set is kept.
func (r *Registry) Register(defs ...Definition) error {
	next := make(map[string]Definition, len(defs))
	order := make([]string, 0, len(defs))
	schemas := make([]Schema, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return invalidDefinitionError{name: d.Name, reason: "empty name"}
		}
		if d.Handler == nil {
			return invalidDefinitionError{name: d.Name, reason: "nil handler"}
		}
		for _, p := range d.Parameters {
			if p.Name == "" || !p.Type.valid() {
				return invalidDefinitionError{name: d.Name, reason: fmt.Sprintf("bad parameter %q of type %q", p.Name, p.Type)}
			}
		}
		if _, dup := next[d.Name]; dup {
			return duplicateToolNameError{name: d.Name}
		}
		next[d.Name] = d
		order = append(order, d.Name)
		schemas = append(schemas, buildSchema(d))
	}
	r.mu.Lock()
	r.defs, r.order, r.schemas = next, order, schemas
	r.mu.Unlock()
	return nil
}

// Reset removes every tool.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.defs = make(map[string]Definition)
	r.order = nil
	r.schemas = nil
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Schemas returns the model-facing schemas in registration order.
func (r *Registry) Schemas() []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Schema(nil), r.schemas...)
}

// Dispatch runs the named tool. The only error returned is unknown tool;
// argument and handler failures are reported through Result.
func (r *Registry) Dispatch(ctx context.Context, name string, raw map[string]any) (Result, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return Result{}, ErrUnknownTool(name)
	}
	args, err := ConvertArgs(d.Parameters, raw)
	if err != nil {
		return failure(err), nil
	}
	out, err := invoke(ctx, d.Handler, args)
	if err != nil {
		return failure(err), nil
	}
	if out == nil {
		out = Args{}
	}
	return Result{Payload: out}, nil
}

func invoke(ctx context.Context, h Handler, args Args) (out Args, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return h(ctx, args)
}

func failure(err error) Result {
	return Result{Payload: Args{"error": String(FailurePayload)}, Err: err}
}
