package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"streamd/internal/common/fsutil"
	"streamd/pkg/types"
)

// GGUFScanner builds models from the *.gguf files of a directory.
type GGUFScanner struct{}

func NewGGUFScanner() GGUFScanner { return GGUFScanner{} }

// Scan lists dir (not recursively). ID is the full filename, extension
// included; Path is the absolute file path.
func (GGUFScanner) Scan(dir string) ([]types.Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() || !isGGUF(e.Name()) {
			continue
		}
		name := e.Name()
		models = append(models, types.Model{ID: name, Name: name, Path: filepath.Join(abs, name), Downloaded: true})
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir is NewGGUFScanner().Scan(dir).
func LoadDir(dir string) ([]types.Model, error) {
	return NewGGUFScanner().Scan(dir)
}

func isGGUF(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".gguf")
}
