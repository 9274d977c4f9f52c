package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"loco/internal/app"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"
)

var (
	bannerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

// lineReader is the slice of the liner surface the REPL loop uses.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// runREPL drives the interactive chat loop over a session. The session is
// saved after every completed exchange and on exit, so an interrupted run is
// resumable.
func runREPL(ctx context.Context, rt *runtime, sess *app.Session) error {
	fmt.Println(bannerStyle.Render("loco") + faintStyle.Render("  "+rt.cfg.Model+" @ "+rt.cfg.ServerURL))
	fmt.Println(faintStyle.Render("Type 'exit' to quit, 'clear' to reset, '/status' for context usage, '/compact' to compact."))

	// Page the model in while the user types the first prompt.
	go rt.client.Warmup(ctx)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	return replLoop(ctx, rt, sess, line)
}

func replLoop(ctx context.Context, rt *runtime, sess *app.Session, line lineReader) error {
	conv := sess.Conversation
	for {
		if ctx.Err() != nil {
			saveSession(rt, sess)
			return nil
		}

		input, err := line.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			// EOF: exit cleanly.
			fmt.Println()
			saveSession(rt, sess)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch input {
		case "exit", "quit":
			saveSession(rt, sess)
			return nil
		case "clear":
			// Start a fresh session; the old one stays in the store and
			// remains resumable.
			conv = rt.newConversation()
			sess = app.NewSession(rt.workDir, conv)
			fmt.Println(faintStyle.Render("Conversation cleared."))
			continue
		case "/status":
			used, max, pct := conv.ContextUsage()
			fmt.Printf("session:  %s\n", sess.ID)
			fmt.Printf("messages: %d\n", len(conv.Messages))
			fmt.Printf("context:  %d / %d tokens (%.1f%%)\n", used, max, pct)
			continue
		case "/compact":
			compacted, err := conv.Compact(ctx, rt.client)
			if err != nil {
				fmt.Println(warnStyle.Render("compaction failed: " + err.Error()))
				continue
			}
			if !compacted {
				fmt.Println(faintStyle.Render("Nothing to compact."))
				continue
			}
			used, max, pct := conv.ContextUsage()
			fmt.Printf("Compacted. context: %d / %d tokens (%.1f%%)\n", used, max, pct)
			saveSession(rt, sess)
			continue
		}

		res, err := rt.loop.RunExchange(ctx, conv, input, func(name string) {
			fmt.Println(toolStyle.Render("[tool] " + name))
		})
		if err != nil && res == nil {
			// Backend failure: the exchange is over but the session is intact.
			fmt.Fprintln(os.Stderr, warnStyle.Render("error: "+err.Error()))
			saveSession(rt, sess)
			continue
		}

		if res.Degraded {
			fmt.Println(warnStyle.Render("warning: model returned an empty answer"))
		}
		if res.FinalAnswer != "" {
			fmt.Println(res.FinalAnswer)
		}
		if err != nil {
			// Compaction failed after the answer; surface it, keep going.
			fmt.Fprintln(os.Stderr, warnStyle.Render("warning: "+err.Error()))
		}
		saveSession(rt, sess)
	}
}

func saveSession(rt *runtime, sess *app.Session) {
	sess.Touch()
	if err := rt.store.Save(sess); err != nil {
		fmt.Fprintf(os.Stderr, "warning: session not saved: %v\n", err)
	}
}
