package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ChatCompleter is the slice of the OpenAI client surface the backend
// wrapper needs. Tests substitute it with a scripted implementation.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Backend is what the agent loop and compaction talk to: one chat-completion
// round trip against the configured model.
type Backend interface {
	ChatCompletion(ctx context.Context, messages []Message, tools []openai.Tool) (openai.ChatCompletionMessage, error)
}

// LlamaClient drives a local OpenAI-compatible chat-completions endpoint
// (llama.cpp llama-server, Ollama, vLLM).
type LlamaClient struct {
	api         ChatCompleter
	model       string
	Temperature float32
}

func NewLlamaClient(serverURL, model string) *LlamaClient {
	cfg := openai.DefaultConfig("local")
	cfg.BaseURL = strings.TrimSuffix(serverURL, "/") + "/v1"
	return &LlamaClient{
		api:         openai.NewClientWithConfig(cfg),
		model:       model,
		Temperature: 0.7,
	}
}

// NewLlamaClientWith wraps an existing completer; used by tests.
func NewLlamaClientWith(api ChatCompleter, model string) *LlamaClient {
	return &LlamaClient{api: api, model: model, Temperature: 0.7}
}

func (c *LlamaClient) ChatCompletion(ctx context.Context, messages []Message, tools []openai.Tool) (openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    toOpenAIMessages(messages),
		Temperature: c.Temperature,
	}
	if len(tools) > 0 {
		req.Tools = tools
		req.ToolChoice = "auto"
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		// go-openai already folds status and body into the error; surface it
		// verbatim, the exchange is over.
		return openai.ChatCompletionMessage{}, fmt.Errorf("llama server request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, errors.New("llama server returned no choices")
	}
	return resp.Choices[0].Message, nil
}

// Warmup fires a minimal completion so the server pages the model in before
// the first real exchange. Callers run it in a goroutine and discard the
// result.
func (c *LlamaClient) Warmup(ctx context.Context) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []openai.ChatCompletionMessage{{Role: RoleUser, Content: "ping"}},
		MaxTokens:   1,
		Temperature: 0,
	}
	_, _ = c.api.CreateChatCompletion(ctx, req)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
