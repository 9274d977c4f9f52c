package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustMarshalJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDispatchUnknownTool(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	_, err := registry.Dispatch(context.Background(), "no_such_tool", json.RawMessage(`{}`))
	if err == nil || !strings.Contains(err.Error(), "unknown tool: no_such_tool") {
		t.Errorf("err = %v", err)
	}
}

func TestSchemaListsAllTools(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	schema := registry.Schema()

	want := []string{"read_file", "write_file", "list_files", "bash_exec", "search_files", "web_search", "analyze_image"}
	if len(schema) != len(want) {
		t.Fatalf("schema has %d tools, want %d", len(schema), len(want))
	}
	for i, name := range want {
		if schema[i].Function.Name != name {
			t.Errorf("schema[%d] = %q, want %q", i, schema[i].Function.Name, name)
		}
	}
}

func TestWriteThenReadFile(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	path := filepath.Join(dir, "nested", "deep", "out.txt")
	content := "line one\nline two\n"

	out, err := registry.Dispatch(context.Background(), "write_file", mustMarshalJSON(t, map[string]interface{}{
		"path": path, "content": content,
	}))
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	want := fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)
	if out != want {
		t.Errorf("write result = %q, want %q", out, want)
	}

	got, err := registry.Dispatch(context.Background(), "read_file", mustMarshalJSON(t, map[string]interface{}{
		"path": path,
	}))
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if got != content {
		t.Errorf("read back %q, want %q", got, content)
	}
}

func TestReadFileMissing(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	_, err := registry.Dispatch(context.Background(), "read_file", mustMarshalJSON(t, map[string]interface{}{
		"path": filepath.Join(dir, "absent.txt"),
	}))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestListFilesMarksDirectories(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	out, err := registry.Dispatch(context.Background(), "list_files", mustMarshalJSON(t, map[string]interface{}{
		"path": dir,
	}))
	if err != nil {
		t.Fatalf("list_files: %v", err)
	}
	lines := strings.Split(out, "\n")
	if len(lines) != 2 || lines[0] != "a.txt" || lines[1] != "sub/" {
		t.Errorf("listing = %q", out)
	}
}

func TestBashExecOutputFormat(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)

	tests := []struct {
		name     string
		command  string
		wantExit int
		wantOut  string
		wantErr  string
	}{
		{"stdout", "echo hello", 0, "hello\n", ""},
		{"stderr", "echo oops >&2", 0, "", "oops\n"},
		{"nonzero exit", "exit 3", 3, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := registry.Dispatch(context.Background(), "bash_exec", mustMarshalJSON(t, map[string]interface{}{
				"command": tt.command,
			}))
			if err != nil {
				t.Fatalf("bash_exec: %v", err)
			}
			want := fmt.Sprintf("Exit code: %d\n\nStdout:\n%s\n\nStderr:\n%s", tt.wantExit, tt.wantOut, tt.wantErr)
			if out != want {
				t.Errorf("output = %q, want %q", out, want)
			}
		})
	}
}

func TestBashExecRunsInWorkDir(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	out, err := registry.Dispatch(context.Background(), "bash_exec", mustMarshalJSON(t, map[string]interface{}{
		"command": "pwd",
	}))
	if err != nil {
		t.Fatalf("bash_exec: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(out, dir) && !strings.Contains(out, resolved) {
		t.Errorf("pwd output %q does not mention %q", out, dir)
	}
}

func TestBashExecMissingCommand(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	_, err := registry.Dispatch(context.Background(), "bash_exec", json.RawMessage(`{}`))
	if err == nil || !strings.Contains(err.Error(), "missing 'command'") {
		t.Errorf("err = %v", err)
	}
}

func TestBashExecDenied(t *testing.T) {
	approver := NewApprover(PolicyAlwaysAsk, SandboxDangerFullAccess, "",
		strings.NewReader("n\n"), &bytes.Buffer{})
	registry, _ := newTestRegistry(t, approver)

	out, err := registry.Dispatch(context.Background(), "bash_exec", mustMarshalJSON(t, map[string]interface{}{
		"command": "echo hi",
	}))
	if err != nil {
		t.Fatalf("bash_exec: %v", err)
	}
	if out != "Command 'echo hi' was denied by user" {
		t.Errorf("output = %q", out)
	}
}

func TestSearchFiles(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	if err := os.WriteFile(filepath.Join(dir, "code.go"), []byte("package main\nfunc target() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := registry.Dispatch(context.Background(), "search_files", mustMarshalJSON(t, map[string]interface{}{
		"pattern": "target", "path": dir,
	}))
	if err != nil {
		t.Fatalf("search_files: %v", err)
	}
	if !strings.Contains(out, "code.go") || !strings.Contains(out, "func target()") {
		t.Errorf("search output = %q", out)
	}

	out, err = registry.Dispatch(context.Background(), "search_files", mustMarshalJSON(t, map[string]interface{}{
		"pattern": "nothing_matches_this", "path": dir,
	}))
	if err != nil {
		t.Fatalf("search_files: %v", err)
	}
	if out != "No matches found" {
		t.Errorf("no-match output = %q", out)
	}
}

func TestAnalyzeImage(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	path := filepath.Join(dir, "pic.png")
	if err := os.WriteFile(path, []byte{0x89, 0x50, 0x4e, 0x47}, 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := registry.Dispatch(context.Background(), "analyze_image", mustMarshalJSON(t, map[string]interface{}{
		"path": path,
	}))
	if err != nil {
		t.Fatalf("analyze_image: %v", err)
	}
	if !strings.Contains(out, "MIME type: image/png") {
		t.Errorf("MIME line missing: %q", out)
	}
	if !strings.Contains(out, "Size: 4 bytes") {
		t.Errorf("size line missing: %q", out)
	}
	if !strings.Contains(out, "iVBORw==") {
		t.Errorf("base64 payload missing: %q", out)
	}
}

func TestAnalyzeImageUnsupportedFormat(t *testing.T) {
	registry, dir := newTestRegistry(t, nil)
	path := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := registry.Dispatch(context.Background(), "analyze_image", mustMarshalJSON(t, map[string]interface{}{
		"path": path,
	}))
	if err == nil || !strings.Contains(err.Error(), "unsupported image format") {
		t.Errorf("err = %v", err)
	}
}

func TestToolArgumentParseFailure(t *testing.T) {
	registry, _ := newTestRegistry(t, nil)
	_, err := registry.Dispatch(context.Background(), "read_file", json.RawMessage(`{not json`))
	if err == nil {
		t.Fatal("expected a parse error")
	}
}
