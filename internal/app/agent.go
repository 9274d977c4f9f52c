package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// AgentLoop orchestrates one exchange: send the conversation plus tool
// schema to the backend, dispatch any requested tool calls in response
// order, feed results back, and repeat until the model answers in plain
// text. Strictly sequential; later tool calls may depend on filesystem
// state left by earlier ones.
type AgentLoop struct {
	Backend  Backend
	Registry *Registry
	Logger   *Logger

	// ToolsDisabled drops the tool schema from backend requests, forcing the
	// model to answer in plain text. Set per agent profile.
	ToolsDisabled bool
}

func NewAgentLoop(backend Backend, registry *Registry, logger *Logger) *AgentLoop {
	return &AgentLoop{Backend: backend, Registry: registry, Logger: logger}
}

// ExchangeResult reports what one exchange produced.
type ExchangeResult struct {
	// FinalAnswer is the model's terminal plain-text reply.
	FinalAnswer string
	// Degraded is set when the model returned empty or whitespace-only
	// content. Terminal, surfaced as a warning; never retried.
	Degraded bool
	// ToolCalls counts dispatched tool invocations across all rounds.
	ToolCalls int
	// Compacted reports whether post-exchange compaction ran.
	Compacted bool
}

// ToolEvent lets a caller observe tool dispatches as they happen (the REPL
// prints them). May be nil.
type ToolEvent func(name string)

// RunExchange appends input as a user turn and drives the loop to a final
// answer. Backend failures abort the exchange; messages already appended
// stay in the conversation, a later retry with the same context is valid.
// A compaction failure after the final answer is returned alongside the
// result.
func (l *AgentLoop) RunExchange(ctx context.Context, conv *Conversation, input string, onTool ToolEvent) (*ExchangeResult, error) {
	conv.AddUser(input)

	var schema []openai.Tool
	if !l.ToolsDisabled {
		schema = l.Registry.Schema()
	}

	res := &ExchangeResult{}
	for {
		reply, err := l.Backend.ChatCompletion(ctx, conv.Messages, schema)
		if err != nil {
			if l.Logger != nil {
				l.Logger.Error("backend call failed", map[string]interface{}{"error": err.Error()})
			}
			return nil, err
		}

		if len(reply.ToolCalls) == 0 {
			res.FinalAnswer = reply.Content
			if strings.TrimSpace(reply.Content) == "" {
				res.Degraded = true
				if l.Logger != nil {
					l.Logger.Error("model returned empty final answer", nil)
				}
			}
			conv.AddAssistant(reply.Content)
			break
		}

		for _, call := range reply.ToolCalls {
			name := call.Function.Name
			if onTool != nil {
				onTool(name)
			}
			res.ToolCalls++

			output, err := l.Registry.Dispatch(ctx, name, json.RawMessage(call.Function.Arguments))
			if err != nil {
				// Tool and argument failures are fed back so the model can
				// self-correct; they never abort the exchange.
				output = fmt.Sprintf("Error: %v", err)
			}
			conv.AddToolResult(name, output)
		}
	}

	compacted, err := conv.CompactIfNeeded(ctx, l.Backend)
	res.Compacted = compacted
	if err != nil {
		return res, fmt.Errorf("context compaction failed: %w", err)
	}
	if compacted && l.Logger != nil {
		used, max, pct := conv.ContextUsage()
		l.Logger.Info("compacted conversation", map[string]interface{}{
			"estimated_tokens": used,
			"max_context":      max,
			"usage_pct":        fmt.Sprintf("%.1f", pct),
		})
	}
	return res, nil
}
