package responses

import aiflow "github.com/jrandolf/aiflow"

func wireRole(r aiflow.Role) string {
	switch r {
	case aiflow.RoleUser:
		return "user"
	case aiflow.RoleAssistant:
		return "assistant"
	case aiflow.RoleDeveloper:
		return "developer"
	default:
		return string(r)
	}
}

// EncodeTranscript lowers an ordered sequence of canonical messages into
// a flat Responses API input list. Unlike the Chat dialect, tool parts
// are never coalesced or buffered: each produces its function-call item
// immediately, followed immediately by its function-call-output item
// when a result is present.
func EncodeTranscript(messages []*aiflow.Message) ([]InputItem, error) {
	var out []InputItem
	for _, m := range messages {
		for _, p := range m.Parts() {
			switch part := p.(type) {
			case *aiflow.TextPart:
				out = append(out, InputItem{
					Type:    "message",
					Role:    wireRole(m.Role),
					Content: part.Text,
				})
			case *aiflow.ToolPart:
				if m.Role != aiflow.RoleAssistant {
					return nil, aiflow.NewToolPartPlacementError()
				}
				out = append(out, InputItem{
					Type:      "function_call",
					CallID:    part.Call.ID,
					Name:      part.Call.Name,
					Arguments: string(part.Call.Args),
				})
				if part.Call.HasResult() {
					out = append(out, InputItem{
						Type:   "function_call_output",
						CallID: part.Call.ID,
						Output: string(part.Call.Result),
					})
				}
			case *aiflow.ErrorPart:
				if m.Role != aiflow.RoleDeveloper {
					return nil, aiflow.NewErrorPartPlacementError()
				}
				out = append(out, InputItem{
					Type:    "message",
					Role:    wireRole(m.Role),
					Content: part.Description,
				})
			}
		}
	}
	return out, nil
}

// EncodeTool lowers a tool descriptor into its Responses API wire shape,
// always setting strict: true.
func EncodeTool(t *aiflow.Tool) ToolDefinition {
	return ToolDefinition{
		Type:        "function",
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.ParametersSchema,
		Strict:      true,
	}
}

// EncodeTools lowers every tool in the registry.
func EncodeTools(set *aiflow.Set) []ToolDefinition {
	tools := set.All()
	out := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = EncodeTool(t)
	}
	return out
}

func wireToolChoice(tc aiflow.ToolChoice) string {
	switch tc {
	case aiflow.ToolChoiceRequired:
		return "required"
	case aiflow.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}
