package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/config"
	"streamd/internal/download"
	"streamd/internal/inference"
	"streamd/internal/inference/llamacpp"
	"streamd/internal/inference/llamaserver"
	"streamd/internal/inference/openaicompat"
	"streamd/internal/inference/scripted"
	"streamd/internal/registry"
	"streamd/internal/session"
)

// stack is the wiring shared by serve and chat.
type stack struct {
	downloads *download.Downloader
	index     *registry.Index
	loader    inference.Loader
	manager   *session.Manager
	// supervisor is set for the llamaserver runtime.
	supervisor *llamaserver.Supervisor
}

func newDownloader(cfg config.Config, log zerolog.Logger, rateLimit int64) *download.Downloader {
	return download.New(download.Options{
		Endpoint:  cfg.HFEndpoint,
		Dir:       cfg.DownloadDir,
		Token:     os.Getenv("HF_TOKEN"),
		RateLimit: rateLimit,
		Logger:    log.With().Str("component", "download").Logger(),
	})
}

func buildStack(cfg config.Config, log zerolog.Logger) (*stack, error) {
	s := &stack{downloads: newDownloader(cfg, log, 0)}
	s.index = registry.NewIndex(cfg.ModelsDir, s.downloads, log.With().Str("component", "registry").Logger())

	switch cfg.Runtime {
	case config.RuntimeLlamaCpp:
		s.loader = llamacpp.NewLoader(llamacpp.Options{
			Resolve: s.index.Resolve,
			CtxSize: cfg.LlamaCtxSize,
			Threads: cfg.LlamaThreads,
		})
	case config.RuntimeLlamaServer:
		s.supervisor = llamaserver.New(llamaserver.Options{
			Bin:       cfg.LlamaBin,
			Host:      cfg.LlamaHost,
			PortStart: cfg.LlamaPortStart,
			PortEnd:   cfg.LlamaPortEnd,
			CtxSize:   cfg.LlamaCtxSize,
			NGL:       cfg.LlamaNGL,
			Threads:   cfg.LlamaThreads,
			ExtraArgs: cfg.LlamaExtraArgs,
			Resolve:   s.index.Resolve,
			Logger:    log.With().Str("component", "llamaserver").Logger(),
		})
		s.loader = s.supervisor
	case config.RuntimeOpenAI:
		if cfg.OpenAIBaseURL == "" {
			return nil, fmt.Errorf("runtime %s needs openai_base_url", cfg.Runtime)
		}
		s.loader = openaicompat.NewLoader(openaicompat.Options{
			BaseURL: cfg.OpenAIBaseURL,
			APIKey:  cfg.OpenAIAPIKey,
		})
	case config.RuntimeScripted:
		s.loader = scripted.EchoLoader()
	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}

	s.manager = session.NewWithConfig(session.Config{
		Loader: s.loader,
		Params: inference.Params{
			Temperature:   cfg.Temperature,
			TopP:          cfg.TopP,
			TopK:          cfg.TopK,
			MaxTokens:     cfg.MaxTokens,
			Seed:          cfg.Seed,
			RepeatPenalty: cfg.RepeatPenalty,
		},
		MaxToolDepth:  cfg.MaxToolDepth,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.MaxWaitMS) * time.Millisecond,
		DrainTimeout:  time.Duration(cfg.DrainTimeoutMS) * time.Millisecond,
		SystemPrompt:  cfg.SystemPrompt,
		Logger:        log.With().Str("component", "session").Logger(),
		Debug:         cfg.Debug,
	})
	return s, nil
}

// Close unloads the session and stops any spawned runtime.
func (s *stack) Close() {
	_ = s.manager.Unload()
	if s.supervisor != nil {
		s.supervisor.StopAll()
	}
}
