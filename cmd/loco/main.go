package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"loco/internal/app"

	"github.com/spf13/cobra"
)

const (
	version = "1.0.0"
)

var (
	flagServer  string
	flagModel   string
	flagAgent   string
	flagPolicy  string
	flagSandbox string
)

// runtime bundles the wired-up components one command invocation needs.
type runtime struct {
	cfg          app.Config
	client       *app.LlamaClient
	store        *app.SessionStore
	registry     *app.Registry
	loop         *app.AgentLoop
	logger       *app.Logger
	workDir      string
	systemPrompt string

	logFile io.Closer
}

func (rt *runtime) close() {
	if rt.store != nil {
		_ = rt.store.Close()
	}
	if rt.logFile != nil {
		_ = rt.logFile.Close()
	}
}

func buildRuntime(agentName string) (*runtime, error) {
	cfg, err := app.LoadConfig(app.DefaultConfigPath())
	if err != nil {
		return nil, err
	}
	if flagServer != "" {
		cfg.ServerURL = flagServer
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	if flagPolicy != "" {
		policy, ok := app.ParseApprovalPolicy(flagPolicy)
		if !ok {
			return nil, fmt.Errorf("invalid approval policy: %s", flagPolicy)
		}
		cfg.ApprovalPolicy = string(policy)
	}
	if flagSandbox != "" {
		sandbox, ok := app.ParseSandboxMode(flagSandbox)
		if !ok {
			return nil, fmt.Errorf("invalid sandbox mode: %s", flagSandbox)
		}
		cfg.SandboxMode = string(sandbox)
	}

	policy, ok := app.ParseApprovalPolicy(cfg.ApprovalPolicy)
	if !ok {
		return nil, fmt.Errorf("invalid approval policy in config: %s", cfg.ApprovalPolicy)
	}
	sandbox, ok := app.ParseSandboxMode(cfg.SandboxMode)
	if !ok {
		return nil, fmt.Errorf("invalid sandbox mode in config: %s", cfg.SandboxMode)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	store, err := app.NewSessionStore("")
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, store: store, workDir: workDir, systemPrompt: app.DefaultSystemPrompt}

	logOut := io.Discard
	if f, err := os.OpenFile(filepath.Join(store.Root, "loco.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
		logOut = f
		rt.logFile = f
	}
	rt.logger = app.NewLogger(logOut)

	var profile *app.Profile
	if agentName != "" {
		profile, err = app.LoadProfile(app.DefaultProfileDir(), agentName)
		if err != nil {
			rt.close()
			return nil, err
		}
		if profile.SystemPrompt != "" {
			rt.systemPrompt = profile.SystemPrompt
		}
	}

	rt.client = app.NewLlamaClient(cfg.ServerURL, cfg.Model)
	rt.client.Temperature = cfg.Temperature
	if profile != nil && profile.Temperature > 0 {
		rt.client.Temperature = profile.Temperature
	}

	approver := app.NewApprover(policy, sandbox, workDir, os.Stdin, os.Stdout)
	rt.registry = app.NewRegistry(approver, rt.logger, workDir)
	rt.loop = app.NewAgentLoop(rt.client, rt.registry, rt.logger)
	if profile != nil && !profile.ToolsEnabled {
		rt.loop.ToolsDisabled = true
	}

	return rt, nil
}

func (rt *runtime) newConversation() *app.Conversation {
	conv := app.NewConversation(rt.systemPrompt)
	conv.SetMaxContext(rt.cfg.MaxContext)
	conv.ThresholdPct = rt.cfg.CompactThresholdPct
	conv.KeepRecent = rt.cfg.KeepRecent
	return conv
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	root := &cobra.Command{
		Use:     "loco",
		Short:   "Loco - local LLM coding assistant",
		Long:    "Loco is an interactive coding assistant backed by a local OpenAI-compatible server (llama.cpp, Ollama, vLLM).\n\nRun without arguments to start a chat session in the current directory.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := buildRuntime(flagAgent)
			if err != nil {
				return err
			}
			defer rt.close()

			sess := app.NewSession(rt.workDir, rt.newConversation())
			return runREPL(ctx, rt, sess)
		},
	}

	root.PersistentFlags().StringVar(&flagServer, "server", "", "llama server URL (default from config)")
	root.PersistentFlags().StringVar(&flagModel, "model", "", "model name (default from config)")
	root.PersistentFlags().StringVar(&flagAgent, "agent", "", "agent profile to use")
	root.PersistentFlags().StringVar(&flagPolicy, "policy", "", "approval policy: auto|read-only|always-ask|never")
	root.PersistentFlags().StringVar(&flagSandbox, "sandbox", "", "sandbox mode: read-only|workspace-write|danger-full-access")

	askCmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Run a single exchange and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			task := strings.Join(args, " ")
			agentName := flagAgent
			if agentName == "" {
				// Route to a specialist when the task obviously calls for one.
				if selected := app.SelectProfile(task); selected != "coder" {
					if _, err := app.LoadProfile(app.DefaultProfileDir(), selected); err == nil {
						agentName = selected
					}
				}
			}

			rt, err := buildRuntime(agentName)
			if err != nil {
				return err
			}
			defer rt.close()

			sess := app.NewSession(rt.workDir, rt.newConversation())
			res, err := rt.loop.RunExchange(ctx, sess.Conversation, task, func(name string) {
				fmt.Fprintf(os.Stderr, "[tool] %s\n", name)
			})
			if err != nil && res == nil {
				return err
			}

			if res.Degraded {
				fmt.Fprintln(os.Stderr, "warning: model returned an empty answer")
			}
			fmt.Println(res.FinalAnswer)

			sess.Touch()
			if saveErr := rt.store.Save(sess); saveErr != nil {
				fmt.Fprintf(os.Stderr, "warning: session not saved: %v\n", saveErr)
			}
			return err
		},
	}
	root.AddCommand(askCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume a saved session (latest when no id is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			rt, err := buildRuntime(flagAgent)
			if err != nil {
				return err
			}
			defer rt.close()

			id := ""
			if len(args) > 0 {
				id = args[0]
			} else {
				id, err = rt.store.Latest()
				if err != nil {
					return err
				}
			}

			sess, err := rt.store.Load(id)
			if err != nil {
				return err
			}
			sess.Conversation.SetMaxContext(rt.cfg.MaxContext)
			sess.Conversation.ThresholdPct = rt.cfg.CompactThresholdPct
			sess.Conversation.KeepRecent = rt.cfg.KeepRecent

			fmt.Printf("Resuming session %s (%d messages)\n", sess.ID, len(sess.Conversation.Messages))
			return runREPL(ctx, rt, sess)
		},
	}
	root.AddCommand(resumeCmd)

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved sessions",
	}
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.NewSessionStore("")
			if err != nil {
				return err
			}
			defer store.Close()

			infos, err := store.List()
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("No saved sessions.")
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%s  %s  %3d messages  %s\n",
					info.ID, info.UpdatedAt.Local().Format("2006-01-02 15:04"), info.MessageCount, info.WorkDir)
			}
			return nil
		},
	})
	sessionsCmd.AddCommand(&cobra.Command{
		Use:   "rm [session-id]",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.NewSessionStore("")
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	})
	root.AddCommand(sessionsCmd)

	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agent profiles",
	}
	agentsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available agent profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := app.ListProfiles(app.DefaultProfileDir())
			if err != nil {
				return err
			}
			if len(profiles) == 0 {
				fmt.Println("No agent profiles found. Run 'loco agents init' to create the defaults.")
				return nil
			}
			for _, p := range profiles {
				fmt.Printf("%-12s %s\n", p.Name, p.Description)
			}
			return nil
		},
	})
	agentsCmd.AddCommand(&cobra.Command{
		Use:   "show [name]",
		Short: "Show an agent profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := app.LoadProfile(app.DefaultProfileDir(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Name:        %s\n", p.Name)
			fmt.Printf("Description: %s\n", p.Description)
			fmt.Printf("Temperature: %.1f\n", p.Temperature)
			fmt.Printf("Tools:       %v\n", p.ToolsEnabled)
			fmt.Printf("\n%s\n", p.SystemPrompt)
			return nil
		},
	})
	agentsCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default agent profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := app.DefaultProfileDir()
			if err := app.CreateDefaultProfiles(dir); err != nil {
				return err
			}
			fmt.Printf("Default agents written to %s\n", dir)
			return nil
		},
	})
	root.AddCommand(agentsCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(app.DefaultConfigPath())
			if err != nil {
				return err
			}
			fmt.Printf("config file:     %s\n", app.DefaultConfigPath())
			fmt.Printf("server_url:      %s\n", cfg.ServerURL)
			fmt.Printf("model:           %s\n", cfg.Model)
			fmt.Printf("max_context:     %d\n", cfg.MaxContext)
			fmt.Printf("temperature:     %.1f\n", cfg.Temperature)
			fmt.Printf("approval_policy: %s\n", cfg.ApprovalPolicy)
			fmt.Printf("sandbox_mode:    %s\n", cfg.SandboxMode)
			return nil
		},
	})
	configCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := app.DefaultConfigPath()
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config already exists at %s", path)
			}
			if err := app.SaveConfig(app.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Printf("Default config written to %s\n", path)
			return nil
		},
	})
	root.AddCommand(configCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
