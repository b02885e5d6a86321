package session

import (
	"time"

	"github.com/rs/zerolog"

	"streamd/internal/inference"
	"streamd/internal/thinking"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
	defaultDrainTimeout  = 5 * time.Second

	// DefaultSystemPrompt is used when a load does not supply one.
	DefaultSystemPrompt = "You are a helpful assistant."
)

// Config encapsulates all tunables for Manager construction.
type Config struct {
	Loader inference.Loader
	// Params are the sampling defaults for every generation.
	Params        inference.Params
	MaxToolDepth  int
	MaxQueueDepth int
	MaxWait       time.Duration
	DrainTimeout  time.Duration
	SystemPrompt  string
	Tags          thinking.Tags
	Publisher     EventPublisher
	Logger        zerolog.Logger
	// Debug logs heap statistics around loads, unloads and generations.
	Debug bool
	Clock func() time.Time
}

// NewWithConfig constructs a Manager from Config.
func NewWithConfig(cfg Config) *Manager {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultMaxWait
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Tags.Open == "" || cfg.Tags.Close == "" {
		cfg.Tags = thinking.DefaultTags
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	m := &Manager{
		cfg:       cfg,
		state:     StateUnloaded,
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, cfg.MaxQueueDepth),
		publisher: noopPublisher{},
		startTime: cfg.Clock(),
	}
	m.resetSessionLocked()
	if cfg.Publisher != nil {
		m.publisher = cfg.Publisher
	}
	return m
}
