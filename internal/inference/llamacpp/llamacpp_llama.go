//go:build llama

package llamacpp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	llama "github.com/go-skynet/go-llama.cpp"

	"streamd/internal/inference"
	"streamd/internal/tools"
	"streamd/pkg/types"
)

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../../bin -lllama
*/
import "C"

// Built reports whether this binary links llama.cpp.
const Built = true

func (l *Loader) load(ctx context.Context, modelID string, progress func(float64)) (inference.Model, error) {
	if l.opts.Resolve == nil {
		return nil, errors.New("llamacpp: no path resolver")
	}
	path, err := l.opts.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("llamacpp: model %s has empty path", modelID)
	}
	progress(0)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := llama.New(path, llama.SetContext(l.opts.CtxSize))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		m.Free()
		return nil, err
	}
	progress(1)
	return &model{llm: m, threads: l.opts.Threads}, nil
}

// model serializes Predict calls; go-llama.cpp keeps one token callback per handle.
type model struct {
	llm     *llama.LLama
	threads int
}

func (m *model) PrepareInput(history, newTurn []types.Message, schemas []tools.Schema) (inference.Input, error) {
	return renderPrompt(history, newTurn, schemas), nil
}

func (m *model) Generate(ctx context.Context, in inference.Input, p inference.Params) (inference.Stream, error) {
	pr, ok := in.(prompt)
	if !ok {
		return nil, fmt.Errorf("llamacpp: unexpected input %T", in)
	}
	if m.llm == nil {
		return nil, errors.New("llama model not initialized")
	}
	return inference.Pipe(ctx, func(ctx context.Context, emit func(inference.Event) bool) error {
		var x *inference.ToolCallExtractor
		if pr.hasTools {
			x = inference.NewToolCallExtractor()
		}
		forward := func(evs ...inference.Event) bool {
			for _, ev := range evs {
				if !emit(ev) {
					return false
				}
			}
			return true
		}
		tokens := 0
		start := time.Now()
		m.llm.SetTokenCallback(func(tok string) bool {
			if ctx.Err() != nil {
				return false
			}
			tokens++
			if x == nil {
				return emit(inference.Chunk(tok))
			}
			return forward(x.Process(tok)...)
		})
		_, err := m.llm.Predict(pr.text, predictOptions(p, m.threads)...)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if x != nil && !forward(x.Flush()...) {
			return ctx.Err()
		}
		info := inference.Info{TokenCount: tokens}
		if secs := time.Since(start).Seconds(); secs > 0 {
			info.TokensPerSecond = float64(tokens) / secs
		}
		emit(inference.InfoEvent(info))
		return nil
	}), nil
}

func (m *model) Close() error {
	if m.llm != nil {
		m.llm.Free()
		m.llm = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

func temperature(t *float32) float32 {
	if t == nil {
		return llama.DefaultOptions.Temperature
	}
	return *t
}

// predictOptions converts sampling params into go-llama.cpp options; zero
// values fall back to the library defaults.
func predictOptions(p inference.Params, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(zn(p.MaxTokens, llama.DefaultOptions.Tokens)),
		llama.SetThreads(max(1, threads)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(temperature(p.Temperature)),
		llama.SetPenalty(zf(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
		llama.SetStopWords(stopWords(p)...),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	return po
}
