package app

import (
	"context"
	"fmt"
	"strings"
)

// Roles accepted in a conversation log. Tool output is carried in user-role
// messages (see AddToolResult); llama.cpp-style servers have no reliable
// native tool role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	DefaultMaxContext          = 32768
	DefaultCompactThresholdPct = 75
	DefaultKeepRecent          = 10
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation owns the ordered message log for one session and tracks a
// running token estimate against a context ceiling. Index 0 is always the
// system prompt and is never removed.
type Conversation struct {
	Messages        []Message
	EstimatedTokens int
	MaxContext      int

	// ThresholdPct is the usage percentage above which compaction kicks in.
	// KeepRecent is the number of trailing messages kept verbatim.
	ThresholdPct int
	KeepRecent   int
}

func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{
		Messages:     []Message{{Role: RoleSystem, Content: systemPrompt}},
		MaxContext:   DefaultMaxContext,
		ThresholdPct: DefaultCompactThresholdPct,
		KeepRecent:   DefaultKeepRecent,
	}
	c.EstimatedTokens = EstimateTokens(systemPrompt)
	return c
}

// EstimateTokens returns a cheap deterministic token estimate for text.
//
// This is not a tokenizer. ~4 chars per token plus a constant for role
// markers and formatting is close enough to drive compaction thresholds.
func EstimateTokens(text string) int {
	return len(text)/4 + 10
}

func (c *Conversation) SetMaxContext(n int) {
	if n > 0 {
		c.MaxContext = n
	}
}

func (c *Conversation) AddUser(content string) {
	c.append(RoleUser, content)
}

func (c *Conversation) AddAssistant(content string) {
	c.append(RoleAssistant, content)
}

// AddToolResult appends tool output wrapped in the textual envelope the
// model was prompted to expect.
func (c *Conversation) AddToolResult(toolName, result string) {
	c.append(RoleUser, fmt.Sprintf("Tool execution result:\nTool: %s\nResult:\n%s", toolName, result))
}

func (c *Conversation) append(role, content string) {
	c.Messages = append(c.Messages, Message{Role: role, Content: content})
	c.EstimatedTokens += EstimateTokens(content)
}

// ContextUsage reports (used, max, percentage) for the status line.
func (c *Conversation) ContextUsage() (int, int, float64) {
	pct := float64(c.EstimatedTokens) / float64(c.MaxContext) * 100
	return c.EstimatedTokens, c.MaxContext, pct
}

// NeedsCompaction is true strictly above the threshold ratio.
func (c *Conversation) NeedsCompaction() bool {
	return c.EstimatedTokens > c.MaxContext*c.ThresholdPct/100
}

// CompactIfNeeded summarizes older messages once usage crosses the
// threshold. Returns whether compaction occurred. On a summarization
// failure the log is left untouched.
func (c *Conversation) CompactIfNeeded(ctx context.Context, backend Backend) (bool, error) {
	if !c.NeedsCompaction() {
		return false, nil
	}
	return c.Compact(ctx, backend)
}

// Compact unconditionally runs the compaction body, still subject to the
// message floor: the system prompt and the KeepRecent tail stay verbatim,
// so there must be at least one message in between to summarize.
func (c *Conversation) Compact(ctx context.Context, backend Backend) (bool, error) {
	if len(c.Messages) <= c.KeepRecent+1 {
		return false, nil
	}

	system := c.Messages[0]
	older := c.Messages[1 : len(c.Messages)-c.KeepRecent]
	recent := c.Messages[len(c.Messages)-c.KeepRecent:]

	summary, err := c.summarize(ctx, backend, older)
	if err != nil {
		return false, fmt.Errorf("summarize conversation: %w", err)
	}

	summaryMsg := Message{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("[Conversation summary of %d messages]\n\n%s", len(older), summary),
	}

	rebuilt := make([]Message, 0, len(recent)+2)
	rebuilt = append(rebuilt, system, summaryMsg)
	rebuilt = append(rebuilt, recent...)
	c.Messages = rebuilt
	c.recompute()
	return true, nil
}

func (c *Conversation) summarize(ctx context.Context, backend Backend, older []Message) (string, error) {
	var transcript strings.Builder
	for i, m := range older {
		if i > 0 {
			transcript.WriteString("\n\n")
		}
		transcript.WriteString(m.Role)
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
	}

	prompt := fmt.Sprintf(`Summarize the following conversation history concisely, preserving key facts, decisions, and context. Focus on:
- Important technical details and decisions
- File modifications and their purposes
- Commands executed and their results
- Any errors or issues encountered

Conversation:
%s

Provide a concise summary in 2-3 paragraphs:`, transcript.String())

	// No tool schema: the summarizer must answer in plain text.
	reply, err := backend.ChatCompletion(ctx, []Message{{Role: RoleUser, Content: prompt}}, nil)
	if err != nil {
		return "", err
	}
	return reply.Content, nil
}

// recompute rebuilds the token estimate from scratch. Compaction always goes
// through here; the estimate is never carried over incrementally across a
// rebuild.
func (c *Conversation) recompute() {
	total := 0
	for _, m := range c.Messages {
		total += EstimateTokens(m.Content)
	}
	c.EstimatedTokens = total
}
