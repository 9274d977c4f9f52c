package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func toolCallReply(name string, args map[string]interface{}) openai.ChatCompletionMessage {
	payload, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return openai.ChatCompletionMessage{
		Role: RoleAssistant,
		ToolCalls: []openai.ToolCall{{
			ID:       "call_1",
			Type:     openai.ToolTypeFunction,
			Function: openai.FunctionCall{Name: name, Arguments: string(payload)},
		}},
	}
}

func newTestRegistry(t *testing.T, approver *Approver) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	return NewRegistry(approver, NewLogger(&bytes.Buffer{}), dir), dir
}

func TestRunExchangeToolRoundTrip(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	backend := &scriptedBackend{replies: []openai.ChatCompletionMessage{
		toolCallReply("list_files", map[string]interface{}{"path": dir}),
		textReply("there is one file"),
	}}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))
	conv := NewConversation("sys")

	var seen []string
	res, err := loop.RunExchange(context.Background(), conv, "what files are here?", func(name string) {
		seen = append(seen, name)
	})
	if err != nil {
		t.Fatalf("RunExchange: %v", err)
	}

	if res.FinalAnswer != "there is one file" {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}
	if res.ToolCalls != 1 {
		t.Errorf("ToolCalls = %d, want 1", res.ToolCalls)
	}
	if len(seen) != 1 || seen[0] != "list_files" {
		t.Errorf("tool events = %v", seen)
	}

	// Log shape: system, user, tool result, assistant.
	if len(conv.Messages) != 4 {
		t.Fatalf("message count = %d, want 4", len(conv.Messages))
	}
	toolMsg := conv.Messages[2]
	if toolMsg.Role != RoleUser {
		t.Errorf("tool result role = %q", toolMsg.Role)
	}
	if !strings.HasPrefix(toolMsg.Content, "Tool execution result:\nTool: list_files\nResult:\n") {
		t.Errorf("tool result envelope missing: %q", toolMsg.Content)
	}
	if !strings.Contains(toolMsg.Content, "hello.txt") {
		t.Errorf("tool result missing listing: %q", toolMsg.Content)
	}

	// The second request must carry the tool result back to the model.
	second := backend.requests[1]
	if second[len(second)-1].Content != toolMsg.Content {
		t.Error("tool result was not forwarded on the next round")
	}
}

func TestRunExchangeDeniedWriteIsAResult(t *testing.T) {
	approver := NewApprover(PolicyAlwaysAsk, SandboxWorkspaceWrite, t.TempDir(),
		strings.NewReader("n\n"), &bytes.Buffer{})
	registry, dir := newTestRegistry(t, approver)
	target := filepath.Join(dir, "new.txt")

	backend := &scriptedBackend{replies: []openai.ChatCompletionMessage{
		toolCallReply("write_file", map[string]interface{}{"path": target, "content": "data"}),
		textReply("understood, not writing"),
	}}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))
	conv := NewConversation("sys")

	res, err := loop.RunExchange(context.Background(), conv, "write the file", nil)
	if err != nil {
		t.Fatalf("RunExchange: %v", err)
	}
	if res.FinalAnswer != "understood, not writing" {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}

	if _, statErr := os.Stat(target); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("denied write created the file anyway")
	}
	want := fmt.Sprintf("Write to %s was denied by user", target)
	if !strings.Contains(conv.Messages[2].Content, want) {
		t.Errorf("denial message missing, got %q", conv.Messages[2].Content)
	}
}

func TestRunExchangeUnknownToolFeedsErrorBack(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	backend := &scriptedBackend{replies: []openai.ChatCompletionMessage{
		toolCallReply("bogus_tool", map[string]interface{}{}),
		textReply("my mistake"),
	}}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))
	conv := NewConversation("sys")

	res, err := loop.RunExchange(context.Background(), conv, "go", nil)
	if err != nil {
		t.Fatalf("RunExchange: %v", err)
	}
	if res.FinalAnswer != "my mistake" {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}
	if !strings.Contains(conv.Messages[2].Content, "Error: unknown tool: bogus_tool") {
		t.Errorf("error result missing, got %q", conv.Messages[2].Content)
	}
}

func TestRunExchangeToolsDisabledSendsNoSchema(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	backend := &scriptedBackend{replies: []openai.ChatCompletionMessage{textReply("plain answer")}}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))
	loop.ToolsDisabled = true
	conv := NewConversation("sys")

	res, err := loop.RunExchange(context.Background(), conv, "hello", nil)
	if err != nil {
		t.Fatalf("RunExchange: %v", err)
	}
	if res.FinalAnswer != "plain answer" {
		t.Errorf("FinalAnswer = %q", res.FinalAnswer)
	}
	if len(backend.tools[0]) != 0 {
		t.Errorf("request carried %d tools, want none", len(backend.tools[0]))
	}
}

func TestRunExchangeBackendFailureIsFatal(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	backend := &scriptedBackend{errs: []error{errors.New("connection refused")}}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))
	conv := NewConversation("sys")

	res, err := loop.RunExchange(context.Background(), conv, "hello", nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	if res != nil {
		t.Errorf("result = %+v, want nil", res)
	}
	// The user turn stays; a retry resends the same context.
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != RoleUser || last.Content != "hello" {
		t.Errorf("last message = %+v", last)
	}
}

func TestRunExchangeEmptyAnswerIsDegraded(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	backend := &scriptedBackend{replies: []openai.ChatCompletionMessage{textReply("   \n")}}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))
	conv := NewConversation("sys")

	res, err := loop.RunExchange(context.Background(), conv, "hello", nil)
	if err != nil {
		t.Fatalf("RunExchange: %v", err)
	}
	if !res.Degraded {
		t.Error("expected a degraded result")
	}
}

func TestRunExchangeCompactsWhenOverThreshold(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	backend := &scriptedBackend{replies: []openai.ChatCompletionMessage{
		textReply("final answer"),
		textReply("summary of the early conversation"),
	}}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))

	conv := NewConversation("sys")
	for i := 0; i < 40; i++ {
		conv.AddUser(fmt.Sprintf("earlier message %d with some padding text", i))
	}
	// Force the log over the threshold.
	conv.MaxContext = conv.EstimatedTokens

	before := conv.EstimatedTokens
	res, err := loop.RunExchange(context.Background(), conv, "one more", nil)
	if err != nil {
		t.Fatalf("RunExchange: %v", err)
	}
	if !res.Compacted {
		t.Fatal("expected compaction after the exchange")
	}
	if len(conv.Messages) != DefaultKeepRecent+2 {
		t.Errorf("message count = %d, want %d", len(conv.Messages), DefaultKeepRecent+2)
	}
	if conv.EstimatedTokens >= before {
		t.Errorf("estimate did not shrink: %d -> %d", before, conv.EstimatedTokens)
	}
	// Final answer survives in the tail.
	last := conv.Messages[len(conv.Messages)-1]
	if last.Role != RoleAssistant || last.Content != "final answer" {
		t.Errorf("last message = %+v", last)
	}
}

func TestRunExchangeCompactionFailureKeepsAnswer(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	backend := &scriptedBackend{
		replies: []openai.ChatCompletionMessage{textReply("the answer"), {}},
		errs:    []error{nil, errors.New("server went away")},
	}
	loop := NewAgentLoop(backend, registry, NewLogger(&bytes.Buffer{}))

	conv := NewConversation("sys")
	for i := 0; i < 40; i++ {
		conv.AddUser(fmt.Sprintf("earlier message %d with some padding text", i))
	}
	conv.MaxContext = conv.EstimatedTokens

	res, err := loop.RunExchange(context.Background(), conv, "one more", nil)
	if err == nil {
		t.Fatal("expected a compaction error")
	}
	if !strings.Contains(err.Error(), "context compaction failed") {
		t.Errorf("error = %v", err)
	}
	if res == nil || res.FinalAnswer != "the answer" {
		t.Errorf("result = %+v, want the final answer preserved", res)
	}
	if res.Compacted {
		t.Error("Compacted reported true on failure")
	}
}
