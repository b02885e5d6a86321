// Package download fetches model repositories from a Hugging Face compatible
// hub into a local directory, one subdirectory per model.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"streamd/internal/common/fsutil"
	"streamd/internal/inference"
)

const (
	DefaultEndpoint = "https://huggingface.co"
	idFile          = ".model_id"
	copyBufSize     = 32 << 10
)

// DefaultExtensions are the file types fetched from a model repository.
var DefaultExtensions = []string{"json", "safetensors", "txt", "model", "tiktoken", "py", "gguf"}

type Options struct {
	// Endpoint is the hub base URL.
	Endpoint string
	// Dir holds one subdirectory per downloaded model.
	Dir        string
	Token      string
	Extensions []string
	// RateLimit caps download bandwidth in bytes per second; 0 is unlimited.
	RateLimit  int64
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

type Downloader struct {
	opts    Options
	limiter *rate.Limiter
	exts    map[string]bool
}

func New(opts Options) *Downloader {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	opts.Endpoint = strings.TrimRight(opts.Endpoint, "/")
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	d := &Downloader{opts: opts, exts: map[string]bool{}}
	for _, e := range opts.Extensions {
		d.exts[strings.ToLower(strings.TrimPrefix(e, "."))] = true
	}
	if opts.RateLimit > 0 {
		burst := int(opts.RateLimit)
		if burst > copyBufSize {
			burst = copyBufSize
		}
		d.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return d
}

// ModelDir is the directory of modelID; "/" in the id becomes "_".
func (d *Downloader) ModelDir(modelID string) string {
	return filepath.Join(d.opts.Dir, strings.ReplaceAll(modelID, "/", "_"))
}

type modelInfo struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
	} `json:"siblings"`
}

// FileList returns the repository files of modelID with a wanted extension.
func (d *Downloader) FileList(ctx context.Context, modelID string) ([]string, error) {
	u, err := url.JoinPath(d.opts.Endpoint, "api", "models", modelID)
	if err != nil {
		return nil, fmt.Errorf("model url: %w", err)
	}
	resp, err := d.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnauthorized {
		return nil, inference.ErrModelNotFound(modelID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError{url: u, code: resp.StatusCode}
	}
	var info modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode model info: %w", err)
	}
	var files []string
	for _, s := range info.Siblings {
		name := s.RFilename
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
		if !d.exts[ext] || !fsutil.IsSafeRelPath(name) {
			continue
		}
		files = append(files, name)
	}
	return files, nil
}

// Download fetches every wanted file of modelID that is not already present
// and returns the model directory. progress receives non-decreasing values
// ending with 1.
func (d *Downloader) Download(ctx context.Context, modelID string, progress func(float64)) (string, error) {
	files, err := d.FileList(ctx, modelID)
	if err != nil {
		return "", err
	}
	dir := d.ModelDir(modelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	log := d.opts.Logger.With().Str("model", modelID).Logger()
	log.Info().Str("dir", dir).Int("files", len(files)).Msg("download start")

	last := 0.0
	report := func(p float64) {
		if progress == nil || p < last {
			return
		}
		last = p
		progress(p)
	}
	n := float64(len(files))
	for i, name := range files {
		dest := filepath.Join(dir, filepath.FromSlash(name))
		if fsutil.PathExists(dest) {
			log.Debug().Str("file", name).Msg("exists, skipping")
			report(float64(i+1) / n)
			continue
		}
		base := float64(i)
		err := d.fetch(ctx, modelID, name, dest, func(frac float64) {
			report((base + frac) / n)
		})
		if err != nil {
			return "", fmt.Errorf("download %s: %w", name, err)
		}
		log.Debug().Str("file", name).Msg("saved")
		report(float64(i+1) / n)
	}
	if err := os.WriteFile(filepath.Join(dir, idFile), []byte(modelID), 0o644); err != nil {
		return "", fmt.Errorf("write model id: %w", err)
	}
	report(1)
	log.Info().Msg("download done")
	return dir, nil
}

func (d *Downloader) fetch(ctx context.Context, modelID, name, dest string, frac func(float64)) error {
	u, err := url.JoinPath(d.opts.Endpoint, modelID, "resolve", "main", name)
	if err != nil {
		return err
	}
	resp, err := d.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError{url: u, code: resp.StatusCode}
	}
	return fsutil.WriteAtomic(dest, func(w io.Writer) error {
		_, err := d.copy(ctx, w, resp.Body, resp.ContentLength, frac)
		return err
	})
}

func (d *Downloader) copy(ctx context.Context, w io.Writer, r io.Reader, size int64, frac func(float64)) (int64, error) {
	buf := make([]byte, copyBufSize)
	if d.limiter != nil && d.limiter.Burst() < len(buf) {
		buf = buf[:d.limiter.Burst()]
	}
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if d.limiter != nil {
				if err := d.limiter.WaitN(ctx, n); err != nil {
					return written, err
				}
			}
			if _, err := w.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			if size > 0 {
				frac(float64(written) / float64(size))
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (d *Downloader) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if d.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.opts.Token)
	}
	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, inference.ErrDependencyUnavailable(fmt.Sprintf("model hub: %v", err))
	}
	return resp, nil
}

// IsDownloaded reports whether modelID has a config.json with safetensors
// weights, or any gguf file.
func (d *Downloader) IsDownloaded(modelID string) bool {
	return isComplete(d.ModelDir(modelID))
}

func isComplete(dir string) bool {
	if len(fsutil.GlobSorted(dir, "*.gguf")) > 0 {
		return true
	}
	return fsutil.PathExists(filepath.Join(dir, "config.json")) && len(fsutil.GlobSorted(dir, "*.safetensors")) > 0
}

// GGUFPath returns the first gguf file of a downloaded model.
func (d *Downloader) GGUFPath(modelID string) (string, bool) {
	m := fsutil.GlobSorted(d.ModelDir(modelID), "*.gguf")
	if len(m) == 0 {
		return "", false
	}
	return m[0], true
}

// Delete removes the model directory. Deleting a missing model is not an error.
func (d *Downloader) Delete(modelID string) error {
	dir := d.ModelDir(modelID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete %s: %w", modelID, err)
	}
	return nil
}

// ListDownloaded returns the ids of complete models under Dir, sorted.
func (d *Downloader) ListDownloaded() ([]string, error) {
	entries, err := os.ReadDir(d.opts.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(d.opts.Dir, e.Name())
		if !isComplete(dir) {
			continue
		}
		ids = append(ids, dirModelID(dir, e.Name()))
	}
	sort.Strings(ids)
	return ids, nil
}

// dirModelID reads the recorded id, falling back to the directory name with
// its first "_" restored to "/".
func dirModelID(dir, name string) string {
	if b, err := os.ReadFile(filepath.Join(dir, idFile)); err == nil && len(b) > 0 {
		return strings.TrimSpace(string(b))
	}
	return strings.Replace(name, "_", "/", 1)
}

type statusError struct {
	url  string
	code int
}

func (e statusError) Error() string { return fmt.Sprintf("GET %s: status %d", e.url, e.code) }

// StatusCode returns the HTTP status of a failed hub request, or 0.
func StatusCode(err error) int {
	var e statusError
	if errors.As(err, &e) {
		return e.code
	}
	return 0
}
