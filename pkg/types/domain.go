package types

// Model describes a model known to the server, either from the built-in
// catalog, a download directory, or a local *.gguf scan.
type Model struct {
	// Stable identifier for the model (Hugging Face repo id or file name).
	// example: mlx-community/Qwen3-1.7B-4bit
	ID string `json:"id" yaml:"id" example:"mlx-community/Qwen3-1.7B-4bit"`
	// Human-friendly name.
	// example: Qwen 3 1.7B (4-bit)
	Name string `json:"name" yaml:"display_name" example:"Qwen 3 1.7B (4-bit)"`
	// Absolute path on disk when the model is available locally.
	// example: /home/user/models/llm/qwen3-1.7b-q4_k_m.gguf
	Path string `json:"path,omitempty" yaml:"-" example:"/home/user/models/llm/qwen3-1.7b-q4_k_m.gguf"`
	// Quantization level or variant string.
	// example: 4bit
	Quant string `json:"quant,omitempty" yaml:"quantization" example:"4bit"`
	// Optional family (e.g., Llama, Qwen, Phi).
	// example: Qwen
	Family string `json:"family,omitempty" yaml:"family" example:"Qwen"`
	// Publisher of the weights.
	// example: Alibaba
	Provider string `json:"provider,omitempty" yaml:"provider" example:"Alibaba"`
	// Parameter count label.
	// example: 1.7B
	Parameters string `json:"parameters,omitempty" yaml:"parameters" example:"1.7B"`
	// Approximate download size in bytes.
	// example: 979502864
	DownloadSize int64 `json:"download_size,omitempty" yaml:"download_size" example:"979502864"`
	// True when the weights are present on disk.
	Downloaded bool `json:"downloaded" yaml:"-"`
}

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation history.
type Message struct {
	// example: user
	Role Role `json:"role" example:"user"`
	// example: What's the weather in Paris?
	Content string `json:"content" example:"What's the weather in Paris?"`
	// Set on tool messages: the call this message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Set on tool messages: the tool that produced the content.
	Name string `json:"name,omitempty"`
	// Set on assistant messages that requested tools.
	ToolCalls []ToolCallRef `json:"tool_calls,omitempty"`
}

// ToolCallRef records a tool call requested by an assistant message.
type ToolCallRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// JSON-encoded arguments.
	Arguments string `json:"arguments"`
}

// GenerationStats summarizes one top-level generation, across every tool-call
// continuation. Durations are in milliseconds.
type GenerationStats struct {
	// example: 128
	TokenCount float64 `json:"tokenCount" example:"128"`
	// example: 42.5
	TokensPerSecond float64 `json:"tokensPerSecond" example:"42.5"`
	// example: 180
	TimeToFirstToken float64 `json:"timeToFirstToken" example:"180"`
	// example: 3200
	TotalTime float64 `json:"totalTime" example:"3200"`
	// example: 35
	ToolExecutionTime float64 `json:"toolExecutionTime" example:"35"`
}
