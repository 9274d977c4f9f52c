package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Tool declares one model-callable action: a name, a natural-language
// description, a JSON-schema parameter shape, and an executor. Only mutating
// tools consult the approval gate; read-only tools always run.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Mutating    bool

	run func(ctx context.Context, r *Registry, args json.RawMessage) (string, error)
}

// Registry maps tool names to executors and renders the schema the backend
// sees. All executors return a single text blob; failures come back as
// errors the agent loop turns into "Error: ..." tool results.
type Registry struct {
	Approver *Approver
	Logger   *Logger
	WorkDir  string

	order  []string
	byName map[string]Tool
}

func NewRegistry(approver *Approver, logger *Logger, workDir string) *Registry {
	r := &Registry{
		Approver: approver,
		Logger:   logger,
		WorkDir:  workDir,
		byName:   make(map[string]Tool),
	}
	for _, t := range builtinTools() {
		r.order = append(r.order, t.Name)
		r.byName[t.Name] = t
	}
	return r
}

// Schema returns the tool declarations in the wire format of the
// chat-completions protocol.
func (r *Registry) Schema() []openai.Tool {
	out := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.byName[name]
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

// Dispatch parses args and runs the named tool. A malformed argument payload
// or an unknown name is an error for the caller to feed back to the model,
// never a fatal condition.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) (string, error) {
	t, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if r.Logger != nil {
		r.Logger.Debug("dispatching tool", map[string]interface{}{"tool": name})
	}
	return t.run(ctx, r, args)
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal: %v", err))
	}
	return data
}

func builtinTools() []Tool {
	return []Tool{
		{
			Name:        "read_file",
			Description: "Read the contents of a file",
			Parameters: mustMarshal(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "The path to the file to read",
					},
				},
				"required": []string{"path"},
			}),
			run: runReadFile,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file (creates or overwrites)",
			Parameters: mustMarshal(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "The path to the file to write",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "The content to write to the file",
					},
				},
				"required": []string{"path", "content"},
			}),
			Mutating: true,
			run:      runWriteFile,
		},
		{
			Name:        "list_files",
			Description: "List files in a directory",
			Parameters: mustMarshal(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "The directory path to list (default: current directory)",
					},
				},
			}),
			run: runListFiles,
		},
		{
			Name:        "bash_exec",
			Description: "Execute a bash command and return the output",
			Parameters: mustMarshal(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The bash command to execute",
					},
					"timeout": map[string]interface{}{
						"type":        "number",
						"description": "Timeout in seconds (default: 30)",
					},
				},
				"required": []string{"command"},
			}),
			Mutating: true,
			run:      runBashExec,
		},
		{
			Name:        "search_files",
			Description: "Search for a pattern in files using grep",
			Parameters: mustMarshal(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"pattern": map[string]interface{}{
						"type":        "string",
						"description": "The pattern to search for",
					},
					"path": map[string]interface{}{
						"type":        "string",
						"description": "The path to search in (default: current directory)",
					},
				},
				"required": []string{"pattern"},
			}),
			run: runSearchFiles,
		},
		{
			Name:        "web_search",
			Description: "Search the web for information using DuckDuckGo. Returns summarized results with titles, URLs, and snippets.",
			Parameters: mustMarshal(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query",
					},
					"max_results": map[string]interface{}{
						"type":        "number",
						"description": "Maximum number of results to return (default: 5)",
					},
				},
				"required": []string{"query"},
			}),
			run: runWebSearch,
		},
		{
			Name:        "analyze_image",
			Description: "Load an image file (PNG, JPG, GIF, BMP, WebP) and return it base64-encoded for a vision-capable model",
			Parameters: mustMarshal(map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "The path to the image file",
					},
				},
				"required": []string{"path"},
			}),
			run: runAnalyzeImage,
		},
	}
}

func runReadFile(ctx context.Context, r *Registry, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("parse read_file arguments: %w", err)
	}
	if a.Path == "" {
		return "", errors.New("missing 'path' parameter")
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", a.Path, err)
	}
	return string(data), nil
}

func runWriteFile(ctx context.Context, r *Registry, args json.RawMessage) (string, error) {
	var a struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("parse write_file arguments: %w", err)
	}
	if a.Path == "" {
		return "", errors.New("missing 'path' parameter")
	}

	if r.Approver != nil && !r.Approver.ApproveWrite(a.Path) {
		// A denial is a valid tool result the model must react to.
		return fmt.Sprintf("Write to %s was denied by user", a.Path), nil
	}

	if dir := filepath.Dir(a.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create parent directories for %s: %w", a.Path, err)
		}
	}
	if err := os.WriteFile(a.Path, []byte(a.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", a.Path, err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(a.Content), a.Path), nil
}

func runListFiles(ctx context.Context, r *Registry, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("parse list_files arguments: %w", err)
	}
	if a.Path == "" {
		a.Path = "."
	}
	entries, err := os.ReadDir(a.Path)
	if err != nil {
		return "", fmt.Errorf("list %s: %w", a.Path, err)
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	return strings.Join(lines, "\n"), nil
}

func runBashExec(ctx context.Context, r *Registry, args json.RawMessage) (string, error) {
	var a struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("parse bash_exec arguments: %w", err)
	}
	if a.Command == "" {
		return "", errors.New("missing 'command' parameter")
	}

	if r.Approver != nil && !r.Approver.ApproveCommand(a.Command) {
		return fmt.Sprintf("Command '%s' was denied by user", a.Command), nil
	}

	timeout := 30 * time.Second
	if a.Timeout > 0 {
		timeout = time.Duration(a.Timeout) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", a.Command)
	cmd.Dir = r.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("execute command: %w", err)
		}
	}

	return fmt.Sprintf("Exit code: %d\n\nStdout:\n%s\n\nStderr:\n%s",
		exitCode, stdout.String(), stderr.String()), nil
}

func runSearchFiles(ctx context.Context, r *Registry, args json.RawMessage) (string, error) {
	var a struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("parse search_files arguments: %w", err)
	}
	if a.Pattern == "" {
		return "", errors.New("missing 'pattern' parameter")
	}
	if a.Path == "" {
		a.Path = "."
	}

	cmd := exec.CommandContext(ctx, "grep", "-r", "-n", a.Pattern, a.Path)
	cmd.Dir = r.WorkDir
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		// grep exits 1 on no matches; that is a result, not a failure.
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(out) == 0 {
			return "No matches found", nil
		}
		return "", fmt.Errorf("search for %q: %w", a.Pattern, err)
	}
	return string(out), nil
}

var imageMIMETypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
}

func runAnalyzeImage(ctx context.Context, r *Registry, args json.RawMessage) (string, error) {
	var a struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return "", fmt.Errorf("parse analyze_image arguments: %w", err)
	}
	if a.Path == "" {
		return "", errors.New("missing 'path' parameter")
	}

	mimeType, ok := imageMIMETypes[strings.ToLower(filepath.Ext(a.Path))]
	if !ok {
		return "", fmt.Errorf("unsupported image format: %s", filepath.Ext(a.Path))
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", a.Path, err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf("Image: %s\nMIME type: %s\nSize: %d bytes\nBase64 data:\n%s",
		a.Path, mimeType, len(data), encoded), nil
}
