package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"streamd/internal/httpapi"
	"streamd/internal/session"
	"streamd/internal/tools"
)

func newServeCmd(a *app) *cobra.Command {
	var addr, runtime, modelsDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API.

The server owns one session. POST /load selects a model, POST /generate
streams thinking, tokens and tool calls as NDJSON, and GET /ws offers the
same over a WebSocket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			if cmd.Flags().Changed("runtime") {
				a.cfg.Runtime = runtime
			}
			if cmd.Flags().Changed("models-dir") {
				a.cfg.ModelsDir = modelsDir
			}
			if err := a.cfg.ApplyDefaults(); err != nil {
				return err
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().StringVar(&runtime, "runtime", "", "Inference runtime: llamacpp, llamaserver, openai or scripted")
	cmd.Flags().StringVar(&modelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	return cmd
}

func serve(parent context.Context, a *app) error {
	cfg, log := a.cfg, a.log
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetGenerateTimeoutSeconds(int64(cfg.GenerateTimeoutSeconds))
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowedOrigins, cfg.CORSAllowedMethods, cfg.CORSAllowedHeaders)
	if cfg.Debug {
		httpapi.SetDefaultLogLevel("debug")
	}

	svc := httpapi.NewSessionService(st.manager, st.index)
	svc.DefaultTools = cfg.Tools
	if svc.DefaultTools == nil {
		svc.DefaultTools = tools.BuiltinNames()
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := st.index.Watch(ctx); err != nil {
		// Listing still works; it rescans on every call.
		log.Warn().Err(err).Str("dir", cfg.ModelsDir).Msg("models dir not watched")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("runtime", cfg.Runtime).Str("models_dir", cfg.ModelsDir).Msg("streamd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.DefaultModel != "" {
		g.Go(func() error {
			if err := st.manager.Load(gctx, cfg.DefaultModel, session.LoadOptions{Tools: mustBuiltins(svc.DefaultTools)}); err != nil {
				log.Error().Err(err).Str("model", cfg.DefaultModel).Msg("default model load failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown error")
		}
		return nil
	})
	return g.Wait()
}

// mustBuiltins drops unknown names; the HTTP path reports them instead.
func mustBuiltins(names []string) []tools.Definition {
	var out []tools.Definition
	for _, n := range names {
		if d, err := tools.SelectBuiltins([]string{n}); err == nil {
			out = append(out, d...)
		}
	}
	return out
}
