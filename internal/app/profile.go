package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Profile is a named agent persona: a system prompt plus per-agent
// generation settings. Profiles are stored one JSON file per agent so
// users can edit them by hand.
type Profile struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float32 `json:"temperature"`
	ToolsEnabled bool    `json:"tools_enabled"`
	Color        string  `json:"color,omitempty"`
}

func DefaultProfileDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "loco", "agents")
}

func LoadProfile(dir, name string) (*Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("missing agent name")
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("agent %q not found", name)
		}
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("agent %q is malformed: %w", name, err)
	}
	if p.Name == "" {
		p.Name = name
	}
	if p.Temperature <= 0 {
		p.Temperature = 0.7
	}
	return &p, nil
}

func SaveProfile(dir string, p *Profile) error {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return errors.New("agent has no name")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, p.Name+".json"), data, 0o644)
}

func ListProfiles(dir string) ([]Profile, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Profile, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		p, err := LoadProfile(dir, name)
		if err != nil {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// profileKeywords maps task keywords to agent names. Checked in order;
// the first hit wins, so more specific intents come first.
var profileKeywords = []struct {
	agent    string
	keywords []string
}{
	{"test-writer", []string{"test", "tests", "coverage", "unit test"}},
	{"reviewer", []string{"review", "critique", "audit"}},
	{"debugger", []string{"debug", "bug", "crash", "panic", "stack trace", "segfault"}},
	{"documenter", []string{"document", "docs", "readme", "docstring"}},
	{"researcher", []string{"research", "search", "look up", "find out", "investigate"}},
}

// SelectProfile picks an agent for a task by keyword, falling back to the
// general coder.
func SelectProfile(task string) string {
	lower := strings.ToLower(task)
	for _, entry := range profileKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.agent
			}
		}
	}
	return "coder"
}

// CreateDefaultProfiles writes the built-in agents into dir, skipping any
// that already exist so user edits survive.
func CreateDefaultProfiles(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, p := range defaultProfiles {
		path := filepath.Join(dir, p.Name+".json")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := SaveProfile(dir, &p); err != nil {
			return err
		}
	}
	return nil
}

var defaultProfiles = []Profile{
	{
		Name:         "coder",
		Description:  "General-purpose coding assistant",
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  0.7,
		ToolsEnabled: true,
		Color:        "cyan",
	},
	{
		Name:         "reviewer",
		Description:  "Reviews code for correctness, style and security issues",
		SystemPrompt: "You are a meticulous code reviewer. Read the relevant files before commenting. Point out bugs, unclear naming, missing error handling and security problems. Be specific: cite file and line. Do not rewrite code unless asked.",
		Temperature:  0.3,
		ToolsEnabled: true,
		Color:        "yellow",
	},
	{
		Name:         "debugger",
		Description:  "Diagnoses failures and proposes minimal fixes",
		SystemPrompt: "You are a debugging specialist. Reproduce the problem first: read the code, run the failing command with bash_exec, and inspect the output. Form a hypothesis before changing anything, then apply the smallest fix that addresses the root cause.",
		Temperature:  0.4,
		ToolsEnabled: true,
		Color:        "red",
	},
	{
		Name:         "test-writer",
		Description:  "Writes focused tests for existing code",
		SystemPrompt: "You write tests. Read the code under test first, then add table-driven tests covering the main paths and the edge cases the code actually handles. Run the tests with bash_exec and fix failures before finishing.",
		Temperature:  0.4,
		ToolsEnabled: true,
		Color:        "green",
	},
	{
		Name:         "documenter",
		Description:  "Writes and updates documentation",
		SystemPrompt: "You write documentation. Read the code before describing it. Prefer short, accurate prose over exhaustive detail. Keep examples runnable.",
		Temperature:  0.5,
		ToolsEnabled: true,
		Color:        "blue",
	},
	{
		Name:         "researcher",
		Description:  "Gathers information from the web and the codebase",
		SystemPrompt: "You are a research assistant. Use web_search and search_files to gather facts, then summarize what you found with sources. Say clearly when you could not find an answer.",
		Temperature:  0.6,
		ToolsEnabled: true,
		Color:        "magenta",
	},
}
