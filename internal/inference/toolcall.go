package inference

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"streamd/internal/thinking"
)

// ToolCallTags delimit text-encoded tool calls (Hermes/Qwen style).
var ToolCallTags = thinking.Tags{Open: "<tool_call>", Close: "</tool_call>"}

// ToolCallExtractor turns raw model text into Chunk and ToolCall events for
// runtimes without native tool calling. A block that does not parse as a
// call is passed through as text, delimiters included.
type ToolCallExtractor struct {
	seg *thinking.Segmenter
}

func NewToolCallExtractor() *ToolCallExtractor {
	return &ToolCallExtractor{seg: thinking.New(ToolCallTags)}
}

// Process consumes a text fragment.
func (x *ToolCallExtractor) Process(text string) []Event {
	return x.convert(x.seg.Process(text))
}

// Flush drains buffered text; an unterminated block is parsed if possible.
func (x *ToolCallExtractor) Flush() []Event {
	return x.convert(x.seg.Flush())
}

func (x *ToolCallExtractor) convert(outs []thinking.Output) []Event {
	var evs []Event
	for _, o := range outs {
		switch o.Kind {
		case thinking.KindToken:
			evs = append(evs, Chunk(o.Text))
		case thinking.KindThinkingEnd:
			if c, ok := parseToolCall(o.Text); ok {
				evs = append(evs, Call(c))
			} else {
				evs = append(evs, Chunk(ToolCallTags.Open+o.Text+ToolCallTags.Close))
			}
		}
	}
	return evs
}

type textToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	// Some templates emit "parameters" instead of "arguments".
	Parameters json.RawMessage `json:"parameters"`
}

func parseToolCall(body string) (ToolCall, bool) {
	var tc textToolCall
	if err := unmarshalLenient(strings.TrimSpace(body), &tc); err != nil || tc.Name == "" {
		return ToolCall{}, false
	}
	raw := tc.Arguments
	if len(raw) == 0 {
		raw = tc.Parameters
	}
	args, ok := decodeArguments(raw)
	if !ok {
		return ToolCall{}, false
	}
	return ToolCall{ID: tc.ID, Name: tc.Name, Arguments: args}, true
}

// decodeArguments accepts an object or a JSON string holding an object.
func decodeArguments(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, true
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false
	}
	return DecodeArgumentString(s)
}

// DecodeArgumentString parses a JSON-encoded argument object. An empty string
// is an empty object.
func DecodeArgumentString(s string) (map[string]any, bool) {
	if strings.TrimSpace(s) == "" {
		return map[string]any{}, true
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, true
}

// unmarshalLenient retries an object that fails with a syntax error once,
// on its jsonrepair output.
func unmarshalLenient(s string, v any) error {
	err := json.Unmarshal([]byte(s), v)
	var syn *json.SyntaxError
	if err == nil || !errors.As(err, &syn) || !strings.HasPrefix(s, "{") {
		return err
	}
	fixed, rerr := jsonrepair.JSONRepair(s)
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}
