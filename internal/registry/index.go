package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"streamd/internal/inference"
	"streamd/pkg/types"
)

// Downloads is the view of the model downloader the index consults.
type Downloads interface {
	ListDownloaded() ([]string, error)
	GGUFPath(modelID string) (string, bool)
	ModelDir(modelID string) string
}

// Index joins the built-in catalog, downloaded models and the local gguf
// directory into one model list, and resolves model ids to gguf files.
type Index struct {
	modelsDir string
	downloads Downloads
	log       zerolog.Logger

	mu       sync.Mutex
	watching bool
	local    []types.Model
	fresh    bool
}

// NewIndex builds an index over modelsDir. downloads may be nil.
func NewIndex(modelsDir string, downloads Downloads, log zerolog.Logger) *Index {
	return &Index{modelsDir: modelsDir, downloads: downloads, log: log}
}

// List returns catalog models first, then downloaded models outside the
// catalog, then local gguf files.
func (x *Index) List() []types.Model {
	downloaded := map[string]bool{}
	var extra []string
	if x.downloads != nil {
		ids, err := x.downloads.ListDownloaded()
		if err != nil {
			x.log.Warn().Err(err).Msg("list downloaded models")
		}
		for _, id := range ids {
			downloaded[id] = true
		}
		extra = ids
	}
	out := Catalog()
	known := make(map[string]bool, len(out))
	for i := range out {
		known[out[i].ID] = true
		if downloaded[out[i].ID] {
			out[i].Downloaded = true
			out[i].Path = x.downloads.ModelDir(out[i].ID)
		}
	}
	for _, id := range extra {
		if known[id] {
			continue
		}
		known[id] = true
		out = append(out, types.Model{ID: id, Name: id, Path: x.downloads.ModelDir(id), Downloaded: true})
	}
	for _, m := range x.localModels() {
		if !known[m.ID] {
			out = append(out, m)
		}
	}
	return out
}

func (x *Index) localModels() []types.Model {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.watching && x.fresh {
		return x.local
	}
	local, err := LoadDir(x.modelsDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			x.log.Warn().Err(err).Str("dir", x.modelsDir).Msg("scan models dir")
		}
		local = nil
	}
	x.local, x.fresh = local, true
	return local
}

// Resolve maps modelID to a gguf file: an existing gguf path, a file in the
// models directory (with or without extension), or a downloaded model.
func (x *Index) Resolve(modelID string) (string, error) {
	if isGGUF(modelID) {
		if st, err := os.Stat(modelID); err == nil && !st.IsDir() {
			return filepath.Abs(modelID)
		}
	}
	for _, m := range x.localModels() {
		if m.ID == modelID || m.ID == modelID+".gguf" {
			return m.Path, nil
		}
	}
	if x.downloads != nil {
		if p, ok := x.downloads.GGUFPath(modelID); ok {
			return p, nil
		}
	}
	return "", inference.ErrModelNotFound(modelID)
}

// Watch caches the local scan and refreshes it when gguf files appear, vanish
// or are renamed in the models directory. It returns once the watcher is
// installed; watching stops when ctx is done.
func (x *Index) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("models dir watcher: %w", err)
	}
	if err := w.Add(x.modelsDir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", x.modelsDir, err)
	}
	x.mu.Lock()
	x.watching, x.fresh = true, false
	x.mu.Unlock()

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				x.mu.Lock()
				x.watching = false
				x.mu.Unlock()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !isGGUF(ev.Name) || ev.Op == fsnotify.Chmod {
					continue
				}
				x.log.Debug().Str("file", filepath.Base(ev.Name)).Str("op", ev.Op.String()).Msg("models dir changed")
				x.mu.Lock()
				x.fresh = false
				x.mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				x.log.Warn().Err(err).Msg("models dir watcher")
			}
		}
	}()
	return nil
}
