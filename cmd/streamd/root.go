package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"streamd/internal/config"
	"streamd/internal/events"
)

// app carries the resolved configuration and logger to subcommands.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
	log        zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "streamd",
		Short:         "Streaming LLM generation with thinking and tool calls",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("STREAMD_CONFIG"), "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(newServeCmd(a), newChatCmd(a), newModelsCmd(a), newDownloadCmd(a))
	return root
}

// setup layers env defaults, the config file and the log-level flag, in that
// order. Subcommand flags are applied by each command afterwards.
func (a *app) setup() error {
	cfg := envConfig()
	if a.configPath != "" {
		fc, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		merge(&cfg, fc)
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if err := cfg.ApplyDefaults(); err != nil {
		return err
	}
	a.cfg = cfg
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.log = log
	events.SetLogger(log.With().Str("component", "events").Logger())
	return nil
}

// newLogger writes human-readable logs to a terminal and JSON otherwise.
func newLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", level, err)
	}
	var l zerolog.Logger
	if term.IsTerminal(int(os.Stderr.Fd())) {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		l = zerolog.New(os.Stderr)
	}
	return l.Level(lvl).With().Timestamp().Logger(), nil
}

// envConfig reads STREAMD_* defaults.
func envConfig() config.Config {
	env := os.Getenv
	cfg := config.Config{
		Addr:          env("STREAMD_ADDR"),
		ModelsDir:     env("STREAMD_MODELS_DIR"),
		DownloadDir:   env("STREAMD_DOWNLOAD_DIR"),
		DefaultModel:  env("STREAMD_DEFAULT_MODEL"),
		HFEndpoint:    env("HF_ENDPOINT"),
		Runtime:       env("STREAMD_RUNTIME"),
		LlamaBin:      env("LLAMA_SERVER_BIN"),
		OpenAIBaseURL: env("STREAMD_OPENAI_BASE_URL"),
		OpenAIAPIKey:  env("STREAMD_OPENAI_API_KEY"),
		SystemPrompt:  env("STREAMD_SYSTEM_PROMPT"),
		Tools:         splitCSV(env("STREAMD_TOOLS")),
		LogLevel:      env("STREAMD_LOG_LEVEL"),
	}
	if v, err := strconv.ParseBool(env("STREAMD_DEBUG")); err == nil {
		cfg.Debug = v
	}
	return cfg
}

// merge copies the non-zero fields of src that the CLI exposes over dst.
func merge(dst *config.Config, src config.Config) {
	str := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	num := func(d *int, s int) {
		if s != 0 {
			*d = s
		}
	}
	flt := func(d *float32, s float32) {
		if s != 0 {
			*d = s
		}
	}
	str(&dst.Addr, src.Addr)
	str(&dst.ModelsDir, src.ModelsDir)
	str(&dst.DownloadDir, src.DownloadDir)
	str(&dst.DefaultModel, src.DefaultModel)
	str(&dst.HFEndpoint, src.HFEndpoint)
	str(&dst.Runtime, src.Runtime)
	str(&dst.LlamaBin, src.LlamaBin)
	str(&dst.LlamaHost, src.LlamaHost)
	str(&dst.OpenAIBaseURL, src.OpenAIBaseURL)
	str(&dst.OpenAIAPIKey, src.OpenAIAPIKey)
	str(&dst.SystemPrompt, src.SystemPrompt)
	str(&dst.LogLevel, src.LogLevel)
	num(&dst.GenerateTimeoutSeconds, src.GenerateTimeoutSeconds)
	num(&dst.LlamaPortStart, src.LlamaPortStart)
	num(&dst.LlamaPortEnd, src.LlamaPortEnd)
	num(&dst.LlamaCtxSize, src.LlamaCtxSize)
	num(&dst.LlamaThreads, src.LlamaThreads)
	num(&dst.LlamaNGL, src.LlamaNGL)
	num(&dst.MaxToolDepth, src.MaxToolDepth)
	num(&dst.MaxQueueDepth, src.MaxQueueDepth)
	num(&dst.MaxWaitMS, src.MaxWaitMS)
	num(&dst.DrainTimeoutMS, src.DrainTimeoutMS)
	num(&dst.TopK, src.TopK)
	num(&dst.MaxTokens, src.MaxTokens)
	num(&dst.Seed, src.Seed)
	if src.Temperature != nil {
		dst.Temperature = src.Temperature
	}
	flt(&dst.TopP, src.TopP)
	flt(&dst.RepeatPenalty, src.RepeatPenalty)
	if src.MaxBodyBytes != 0 {
		dst.MaxBodyBytes = src.MaxBodyBytes
	}
	if src.CORSEnabled {
		dst.CORSEnabled = true
	}
	if len(src.CORSAllowedOrigins) > 0 {
		dst.CORSAllowedOrigins = src.CORSAllowedOrigins
	}
	if len(src.CORSAllowedMethods) > 0 {
		dst.CORSAllowedMethods = src.CORSAllowedMethods
	}
	if len(src.CORSAllowedHeaders) > 0 {
		dst.CORSAllowedHeaders = src.CORSAllowedHeaders
	}
	if len(src.LlamaExtraArgs) > 0 {
		dst.LlamaExtraArgs = src.LlamaExtraArgs
	}
	if src.Tools != nil {
		dst.Tools = src.Tools
	}
	if src.Debug {
		dst.Debug = true
	}
}

// splitCSV splits a comma-separated list, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
