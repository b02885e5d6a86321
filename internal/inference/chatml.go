package inference

import (
	"encoding/json"
	"strings"

	"streamd/internal/tools"
	"streamd/pkg/types"
)

// ChatMLStop ends an assistant turn in ChatML prompts.
const ChatMLStop = "<|im_end|>"

// RenderChatML renders messages in the ChatML format used by Qwen and
// Hermes-tuned models, ending with an open assistant turn. Tools, if any, are
// described in the system block; tool results are sent back as
// <tool_response> user messages.
func RenderChatML(msgs []types.Message, schemas []tools.Schema) string {
	var b strings.Builder
	system := ""
	rest := msgs
	if len(msgs) > 0 && msgs[0].Role == types.RoleSystem {
		system = msgs[0].Content
		rest = msgs[1:]
	}
	if system != "" || len(schemas) > 0 {
		b.WriteString("<|im_start|>system\n")
		b.WriteString(system)
		if len(schemas) > 0 {
			writeToolsBlock(&b, schemas, system != "")
		}
		b.WriteString(ChatMLStop + "\n")
	}
	for _, m := range rest {
		switch m.Role {
		case types.RoleTool:
			b.WriteString("<|im_start|>user\n<tool_response>\n")
			b.WriteString(m.Content)
			b.WriteString("\n</tool_response>" + ChatMLStop + "\n")
		case types.RoleAssistant:
			b.WriteString("<|im_start|>assistant\n")
			b.WriteString(m.Content)
			for i, tc := range m.ToolCalls {
				if i > 0 || m.Content != "" {
					b.WriteString("\n")
				}
				b.WriteString(ToolCallTags.Open + "\n")
				b.WriteString(`{"name": `)
				name, _ := json.Marshal(tc.Name)
				b.Write(name)
				b.WriteString(`, "arguments": `)
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				b.WriteString(args)
				b.WriteString("}\n" + ToolCallTags.Close)
			}
			b.WriteString(ChatMLStop + "\n")
		default:
			b.WriteString("<|im_start|>" + string(m.Role) + "\n")
			b.WriteString(m.Content)
			b.WriteString(ChatMLStop + "\n")
		}
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func writeToolsBlock(b *strings.Builder, schemas []tools.Schema, sep bool) {
	if sep {
		b.WriteString("\n\n")
	}
	b.WriteString("# Tools\n\nYou may call one or more functions to assist with the user query.\n\n")
	b.WriteString("You are provided with function signatures within <tools></tools> XML tags:\n<tools>\n")
	for _, s := range schemas {
		params, err := s.ParametersJSON()
		if err != nil {
			params = map[string]any{"type": "object"}
		}
		line, _ := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  params,
			},
		})
		b.Write(line)
		b.WriteString("\n")
	}
	b.WriteString("</tools>\n\nFor each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:\n")
	b.WriteString("<tool_call>\n{\"name\": <function-name>, \"arguments\": <args-json-object>}\n</tool_call>")
}
