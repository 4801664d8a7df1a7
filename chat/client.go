// Package chat implements the Chat Completions wire dialect of the
// streaming engine: request encoding that coalesces consecutive
// assistant tool calls and buffers their results, and per-chunk event
// demultiplexing keyed by tool_call index.
package chat

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// Client is the subset of *openai.Client the engine depends on. Backend
// transport, retries, and credential loading are the caller's
// responsibility; the engine only ever calls this one method.
type Client interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}
