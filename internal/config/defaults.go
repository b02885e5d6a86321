package config

import (
	"fmt"
	"strings"

	"streamd/internal/common/fsutil"
)

// Defaults used by ApplyDefaults.
const (
	DefaultAddr            = ":8080"
	DefaultModelsDir       = "~/models/llm"
	DefaultDownloadDir     = "~/.cache/streamd/models"
	DefaultHFEndpoint      = "https://huggingface.co"
	DefaultRuntime         = RuntimeLlamaServer
	DefaultLlamaHost       = "127.0.0.1"
	DefaultLlamaCtxSize    = 4096
	DefaultMaxBodyBytes    = 1 << 20
	DefaultGenerateTimeout = 300
	DefaultMaxToolDepth    = 10
	DefaultMaxQueueDepth   = 32
	DefaultMaxWaitMS       = 30_000
	DefaultDrainTimeoutMS  = 5_000
	DefaultLogLevel        = "info"
)

// Runtime names.
const (
	RuntimeLlamaCpp    = "llamacpp"
	RuntimeLlamaServer = "llamaserver"
	RuntimeOpenAI      = "openai"
	RuntimeScripted    = "scripted"
)

// Runtimes lists every accepted Runtime value.
var Runtimes = []string{RuntimeLlamaCpp, RuntimeLlamaServer, RuntimeOpenAI, RuntimeScripted}

// ApplyDefaults fills unspecified fields and expands '~' in directories.
func (c *Config) ApplyDefaults() error {
	setStr := func(p *string, v string) {
		if *p == "" {
			*p = v
		}
	}
	setInt := func(p *int, v int) {
		if *p <= 0 {
			*p = v
		}
	}
	setStr(&c.Addr, DefaultAddr)
	setStr(&c.ModelsDir, DefaultModelsDir)
	setStr(&c.DownloadDir, DefaultDownloadDir)
	setStr(&c.HFEndpoint, DefaultHFEndpoint)
	setStr(&c.Runtime, DefaultRuntime)
	setStr(&c.LlamaHost, DefaultLlamaHost)
	setStr(&c.LogLevel, DefaultLogLevel)
	setInt(&c.LlamaCtxSize, DefaultLlamaCtxSize)
	setInt(&c.GenerateTimeoutSeconds, DefaultGenerateTimeout)
	setInt(&c.MaxToolDepth, DefaultMaxToolDepth)
	setInt(&c.MaxQueueDepth, DefaultMaxQueueDepth)
	setInt(&c.MaxWaitMS, DefaultMaxWaitMS)
	setInt(&c.DrainTimeoutMS, DefaultDrainTimeoutMS)
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c.Runtime = strings.ToLower(strings.TrimSpace(c.Runtime))
	if !validRuntime(c.Runtime) {
		return fmt.Errorf("unknown runtime %q (want one of %s)", c.Runtime, strings.Join(Runtimes, ", "))
	}
	if c.LlamaPortStart > 0 && c.LlamaPortEnd > 0 && c.LlamaPortEnd < c.LlamaPortStart {
		return fmt.Errorf("llama port range %d-%d is empty", c.LlamaPortStart, c.LlamaPortEnd)
	}
	for _, p := range []*string{&c.ModelsDir, &c.DownloadDir} {
		expanded, err := fsutil.ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func validRuntime(r string) bool {
	for _, v := range Runtimes {
		if v == r {
			return true
		}
	}
	return false
}
