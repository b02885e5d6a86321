// Package llamaserver spawns one llama-server process per loaded model and
// streams from it through the OpenAI-compatible adapter.
package llamaserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/inference"
	"streamd/internal/inference/openaicompat"
)

const stderrTail = 4096

// Options configures the supervisor. Zero values fall back to llama-server
// defaults.
type Options struct {
	Bin       string
	Host      string
	PortStart int
	PortEnd   int
	CtxSize   int
	NGL       int
	Threads   int
	ExtraArgs []string
	// Jinja starts the server with --jinja so it emits native tool calls;
	// otherwise <tool_call> blocks are parsed from the text.
	Jinja        bool
	ReadyTimeout time.Duration
	Resolve      func(modelID string) (string, error)
	Logger       zerolog.Logger
}

var _ inference.Loader = (*Supervisor)(nil)

// Supervisor owns the spawned processes, keyed by model path.
type Supervisor struct {
	opts       Options
	mu         sync.Mutex
	procs      map[string]*proc
	httpClient *http.Client
}

type proc struct {
	cmd     *exec.Cmd
	baseURL string
	ready   bool
	pid     int
	exited  chan struct{}
}

func New(opts Options) *Supervisor {
	if strings.TrimSpace(opts.Host) == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 30 * time.Second
	}
	// Timeout=0: every request carries a context deadline.
	return &Supervisor{opts: opts, procs: make(map[string]*proc), httpClient: &http.Client{Timeout: 0}}
}

func (s *Supervisor) Load(ctx context.Context, modelID string, progress func(float64)) (inference.Model, error) {
	if progress == nil {
		progress = func(float64) {}
	}
	if s.opts.Resolve == nil {
		return nil, errors.New("llamaserver: no path resolver")
	}
	path, err := s.opts.Resolve(modelID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("model %s has empty path", modelID)
	}
	baseURL, err := s.ensureProcess(ctx, path, progress)
	if err != nil {
		return nil, err
	}
	client := openaicompat.NewClient(openaicompat.Options{BaseURL: baseURL + "/v1/", APIKey: "none", HTTPClient: s.httpClient})
	return &model{Model: openaicompat.NewModel(client, modelID, !s.opts.Jinja), s: s, path: path}, nil
}

// model stops its process on Close.
type model struct {
	*openaicompat.Model
	s    *Supervisor
	path string
}

func (m *model) Close() error { return m.s.Stop(m.path) }

func (s *Supervisor) bin() (string, error) {
	bin := strings.TrimSpace(s.opts.Bin)
	if bin == "" {
		bin = discoverBin()
	}
	if bin == "" {
		return "", inference.ErrDependencyUnavailable("llama-server not found: set llama_bin or install llama.cpp")
	}
	if fi, err := os.Stat(bin); err != nil || fi.IsDir() {
		return "", inference.ErrDependencyUnavailable(fmt.Sprintf("llama-server not found or not a file: %s", bin))
	}
	return bin, nil
}

func (s *Supervisor) args(modelPath string, port int) []string {
	args := []string{"-m", modelPath, "--host", s.opts.Host, "--port", strconv.Itoa(port)}
	if s.opts.CtxSize > 0 {
		args = append(args, "-c", strconv.Itoa(s.opts.CtxSize))
	}
	if s.opts.NGL > 0 {
		args = append(args, "-ngl", strconv.Itoa(s.opts.NGL))
	}
	if s.opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(s.opts.Threads))
	}
	if s.opts.Jinja {
		args = append(args, "--jinja")
	}
	return append(args, s.opts.ExtraArgs...)
}

// ensureProcess starts (or reuses) llama-server for modelPath and waits until
// /v1/models answers.
func (s *Supervisor) ensureProcess(ctx context.Context, modelPath string, progress func(float64)) (string, error) {
	s.mu.Lock()
	p := s.procs[modelPath]
	s.mu.Unlock()
	if p != nil {
		if s.isHealthy(ctx, p.baseURL, time.Second) {
			s.mu.Lock()
			p.ready = true
			s.mu.Unlock()
			progress(1)
			return p.baseURL, nil
		}
		_ = s.Stop(modelPath)
	}

	bin, err := s.bin()
	if err != nil {
		return "", err
	}
	var port int
	if s.opts.PortStart > 0 && s.opts.PortEnd >= s.opts.PortStart {
		port, err = pickPortInRange(s.opts.Host, s.opts.PortStart, s.opts.PortEnd)
	} else {
		port, err = pickFreePort(s.opts.Host)
	}
	if err != nil {
		return "", err
	}
	baseURL := fmt.Sprintf("http://%s:%d", s.opts.Host, port)

	cmd := exec.Command(bin, s.args(modelPath, port)...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start llama-server: %w", err)
	}
	log := s.opts.Logger.With().Str("model", modelPath).Int("pid", cmd.Process.Pid).Logger()
	log.Info().Str("url", baseURL).Msg("llama-server start")

	p = &proc{cmd: cmd, baseURL: baseURL, pid: cmd.Process.Pid, exited: make(chan struct{})}
	s.mu.Lock()
	s.procs[modelPath] = p
	s.mu.Unlock()

	waitErrCh := make(chan error, 1)
	go func() {
		waitErrCh <- cmd.Wait()
		close(p.exited)
	}()

	fail := func(err error) (string, error) {
		s.mu.Lock()
		if s.procs[modelPath] == p {
			delete(s.procs, modelPath)
		}
		s.mu.Unlock()
		return "", err
	}

	start := time.Now()
	deadline := start.Add(s.opts.ReadyTimeout)
	for {
		select {
		case werr := <-waitErrCh:
			log.Warn().Err(werr).Msg("llama-server exited before ready")
			if werr != nil {
				return fail(fmt.Errorf("llama-server exited early: %v; stderr tail: %s", werr, stderr.String()))
			}
			return fail(fmt.Errorf("llama-server exited before ready: %s", baseURL))
		case <-ctx.Done():
			s.terminate(p)
			return fail(ctx.Err())
		default:
		}
		if time.Now().After(deadline) {
			log.Warn().Dur("timeout", s.opts.ReadyTimeout).Msg("llama-server not ready")
			s.terminate(p)
			return fail(fmt.Errorf("llama-server not ready in time: %s", baseURL))
		}
		if s.isHealthy(ctx, baseURL, time.Second) {
			break
		}
		// Loading a model has no progress signal; report elapsed share of the timeout.
		progress(0.9 * float64(time.Since(start)) / float64(s.opts.ReadyTimeout))
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	p.ready = true
	s.mu.Unlock()
	log.Info().Dur("took", time.Since(start)).Msg("llama-server ready")
	progress(1)
	return baseURL, nil
}

func (s *Supervisor) isHealthy(ctx context.Context, baseURL string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Stop terminates the process serving modelPath, if any.
func (s *Supervisor) Stop(modelPath string) error {
	s.mu.Lock()
	p := s.procs[modelPath]
	delete(s.procs, modelPath)
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	s.terminate(p)
	s.opts.Logger.Info().Str("model", modelPath).Int("pid", p.pid).Msg("llama-server stop")
	return nil
}

// terminate sends SIGTERM and kills the process after 2s.
func (s *Supervisor) terminate(p *proc) {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	_ = p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.exited:
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
}

// StopAll terminates every managed process.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	paths := make([]string, 0, len(s.procs))
	for k := range s.procs {
		paths = append(paths, k)
	}
	s.mu.Unlock()
	for _, path := range paths {
		_ = s.Stop(path)
	}
}

// procInfo returns a snapshot of the process serving modelPath.
func (s *Supervisor) procInfo(modelPath string) (pid int, baseURL string, ready bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.procs[modelPath]; p != nil {
		return p.pid, p.baseURL, p.ready, true
	}
	return 0, "", false, false
}

func pickPortInRange(host string, start, end int) (int, error) {
	for p := start; p <= end; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// discoverBin looks for llama-server in common install locations, then PATH.
func discoverBin() string {
	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, "apps", "llama.cpp", "build", "bin", "llama-server"),
		"/usr/local/bin/llama-server",
		"/opt/homebrew/bin/llama-server",
	}
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	if lp, err := exec.LookPath("llama-server"); err == nil {
		return lp
	}
	return ""
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
