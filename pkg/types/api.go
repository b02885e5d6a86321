package types

// LoadRequest is the payload for POST /load.
type LoadRequest struct {
	// Model identifier known to the registry or runtime.
	// example: mlx-community/Qwen3-1.7B-4bit
	ModelID string `json:"model_id" example:"mlx-community/Qwen3-1.7B-4bit"`
	// System prompt for the session; empty uses the server default.
	// example: You are a helpful assistant.
	SystemPrompt string `json:"system_prompt,omitempty" example:"You are a helpful assistant."`
	// Names of built-in tools to enable for the session.
	// example: ["current_time","calculator"]
	Tools []string `json:"tools,omitempty" example:"[\"current_time\",\"calculator\"]"`
	// Messages to seed the conversation history with.
	History []Message `json:"history,omitempty"`
	// Stateless sessions forget each turn once it ends; every prompt is
	// answered against the seeded history only.
	Stateless bool `json:"stateless,omitempty"`
}

// LoadProgress is one NDJSON line streamed by POST /load.
type LoadProgress struct {
	// Fraction of loading completed, 0..1.
	// example: 0.5
	Progress float64 `json:"progress" example:"0.5"`
	// True on the final line of a successful load.
	Done bool `json:"done,omitempty"`
	// Error message on the final line of a failed load.
	Error string `json:"error,omitempty"`
}

// GenerateRequest is the payload for POST /generate.
type GenerateRequest struct {
	// Required prompt text.
	// example: What's the time in Tokyo?
	Prompt string `json:"prompt" example:"What's the time in Tokyo?"`
}

// GenerateResponse is returned by POST /generate when the client does not
// accept a stream (Accept: application/json).
type GenerateResponse struct {
	Content string          `json:"content"`
	Stats   GenerationStats `json:"stats"`
}

// HistoryResponse is returned by GET /history.
type HistoryResponse struct {
	Messages []Message `json:"messages"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Session state: unloaded, loading, ready, generating.
	// example: ready
	State string `json:"state" example:"ready"`
	// Loaded (or loading) model id.
	// example: mlx-community/Qwen3-1.7B-4bit
	ModelID string `json:"model_id,omitempty" example:"mlx-community/Qwen3-1.7B-4bit"`
	// Last reported load progress, 0..1.
	// example: 1
	LoadProgress float64 `json:"load_progress" example:"1"`
	// Number of messages in the conversation history.
	// example: 4
	HistoryLen int `json:"history_len" example:"4"`
	// Names of tools registered for the session.
	Tools []string `json:"tools,omitempty"`
	// Generations waiting for the in-flight slot.
	// example: 0
	QueueLen int `json:"queue_len" example:"0"`
	// Maximum queued generations before backpressure triggers.
	// example: 32
	MaxQueueDepth int `json:"max_queue_depth" example:"32"`
	// Last error observed by the session (if any).
	LastError string `json:"last_error,omitempty"`
	// Stats of the most recent generation.
	LastStats GenerationStats `json:"last_stats"`
	// Total number of successful loads.
	// example: 3
	LoadsTotal uint64 `json:"loads_total" example:"3"`
	// Total number of completed generations.
	// example: 12
	GenerationsTotal uint64 `json:"generations_total" example:"12"`
	// Uptime of the server in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	// example: 1700000000
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
