//go:build !llama

package llamacpp

import (
	"context"

	"streamd/internal/inference"
)

// Built reports whether this binary links llama.cpp.
const Built = false

func (l *Loader) load(ctx context.Context, modelID string, progress func(float64)) (inference.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, inference.ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
