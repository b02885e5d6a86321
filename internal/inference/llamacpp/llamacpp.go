// Package llamacpp runs gguf models in-process through go-llama.cpp. The real
// adapter needs the `llama` build tag (cgo, libllama); default builds get a
// stub that reports the dependency as unavailable.
package llamacpp

import (
	"context"
	"strings"

	"streamd/internal/inference"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

// PathResolver maps a model id to a gguf file.
type PathResolver func(modelID string) (string, error)

// Options configures the loader.
type Options struct {
	Resolve PathResolver
	CtxSize int
	Threads int
}

type prompt struct {
	text     string
	hasTools bool
}

// renderPrompt builds the ChatML prompt shared by the real adapter and the stub.
func renderPrompt(history, newTurn []types.Message, schemas []tools.Schema) prompt {
	return prompt{
		text:     inference.RenderChatML(inference.Messages(history, newTurn), schemas),
		hasTools: len(schemas) > 0,
	}
}

func stopWords(p inference.Params) []string {
	stop := append([]string{inference.ChatMLStop}, p.Stop...)
	out := stop[:0]
	seen := map[string]bool{}
	for _, s := range stop {
		if strings.TrimSpace(s) == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

var _ inference.Loader = (*Loader)(nil)

// Loader loads gguf models by id.
type Loader struct {
	opts Options
}

func NewLoader(opts Options) *Loader { return &Loader{opts: opts} }

func (l *Loader) Load(ctx context.Context, modelID string, progress func(float64)) (inference.Model, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	return l.load(ctx, modelID, progress)
}
