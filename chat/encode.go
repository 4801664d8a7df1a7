package chat

import (
	aiflow "github.com/jrandolf/aiflow"
	openai "github.com/sashabaranov/go-openai"
)

func wireRole(r aiflow.Role) string {
	switch r {
	case aiflow.RoleUser:
		return openai.ChatMessageRoleUser
	case aiflow.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case aiflow.RoleDeveloper:
		return openai.ChatMessageRoleSystem
	default:
		return string(r)
	}
}

// EncodeTranscript lowers an ordered sequence of canonical messages into
// Chat Completions wire messages. Consecutive assistant tool parts within
// a single canonical message coalesce into one assistant message whose
// tool_calls is a list; each corresponding tool result is emitted as a
// separate tool-role message that immediately follows, buffered so text
// parts never interleave between a tool call and its result.
func EncodeTranscript(messages []*aiflow.Message) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	for _, m := range messages {
		if err := encodeMessage(m, &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeMessage(m *aiflow.Message, out *[]openai.ChatCompletionMessage) error {
	var pendingCalls []openai.ToolCall
	var pendingResults []openai.ChatCompletionMessage

	flush := func() {
		if len(pendingCalls) == 0 {
			return
		}
		*out = append(*out, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: pendingCalls,
		})
		*out = append(*out, pendingResults...)
		pendingCalls = nil
		pendingResults = nil
	}

	for _, p := range m.Parts() {
		switch part := p.(type) {
		case *aiflow.TextPart:
			flush()
			*out = append(*out, openai.ChatCompletionMessage{
				Role:    wireRole(m.Role),
				Content: part.Text,
			})
		case *aiflow.ToolPart:
			if m.Role != aiflow.RoleAssistant {
				return aiflow.NewToolPartPlacementError()
			}
			pendingCalls = append(pendingCalls, openai.ToolCall{
				ID:   part.Call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.Call.Name,
					Arguments: string(part.Call.Args),
				},
			})
			if part.Call.HasResult() {
				pendingResults = append(pendingResults, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    string(part.Call.Result),
					ToolCallID: part.Call.ID,
				})
			}
		case *aiflow.ErrorPart:
			if m.Role != aiflow.RoleDeveloper {
				return aiflow.NewErrorPartPlacementError()
			}
			flush()
			*out = append(*out, openai.ChatCompletionMessage{
				Role:    wireRole(m.Role),
				Content: part.Description,
			})
		}
	}
	flush()
	return nil
}

// EncodeTool lowers a tool descriptor into its Chat Completions wire
// shape, always setting strict: true.
func EncodeTool(t *aiflow.Tool) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.ParametersSchema,
			Strict:      true,
		},
	}
}

// EncodeTools lowers every tool in the registry.
func EncodeTools(set *aiflow.Set) []openai.Tool {
	tools := set.All()
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = EncodeTool(t)
	}
	return out
}

func wireToolChoice(tc aiflow.ToolChoice) any {
	switch tc {
	case aiflow.ToolChoiceRequired:
		return "required"
	case aiflow.ToolChoiceNone:
		return "none"
	default:
		return "auto"
	}
}
