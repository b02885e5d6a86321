package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"streamd/internal/session"
	"streamd/internal/tools"
)

func newChatCmd(a *app) *cobra.Command {
	var runtime, system, toolList string
	var markdown bool
	cmd := &cobra.Command{
		Use:   "chat [model]",
		Short: "Chat with a model in the terminal",
		Long: `Load a model and chat with it in the terminal.

Thinking is shown dimmed and tool calls as they run. Ctrl+C stops the
current answer; at the prompt it exits.

Commands: /clear, /stats, /history, /quit`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("runtime") {
				a.cfg.Runtime = runtime
				if err := a.cfg.ApplyDefaults(); err != nil {
					return err
				}
			}
			model := a.cfg.DefaultModel
			if len(args) == 1 {
				model = args[0]
			}
			if model == "" {
				return errors.New("no model given and no default_model configured")
			}
			names := a.cfg.Tools
			if cmd.Flags().Changed("tools") {
				names = splitCSV(toolList)
			} else if names == nil {
				names = tools.BuiltinNames()
			}
			defs, err := tools.SelectBuiltins(names)
			if err != nil {
				return err
			}
			if system == "" {
				system = a.cfg.SystemPrompt
			}
			return chat(cmd.Context(), a, model, session.LoadOptions{SystemPrompt: system, Tools: defs}, markdown)
		},
	}
	cmd.Flags().StringVar(&runtime, "runtime", "", "Inference runtime: llamacpp, llamaserver, openai or scripted")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().StringVar(&toolList, "tools", "", "Comma-separated built-in tools to enable")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "Render answers as markdown")
	return cmd
}

func chat(ctx context.Context, a *app, model string, opts session.LoadOptions, markdown bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := buildStack(a.cfg, a.log)
	if err != nil {
		return err
	}
	defer st.Close()

	out := os.Stdout
	opts.OnProgress = func(p float64) { fmt.Fprintf(out, "\rloading %s %3.0f%%", model, p*100) }
	if err := st.manager.Load(ctx, model, opts); err != nil {
		fmt.Fprintln(out)
		return err
	}
	fmt.Fprintln(out)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	histFile := chatHistoryFile()
	if f, err := os.Open(histFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	defer saveChatHistory(line, histFile)

	// Ctrl+C outside the prompt stops the running answer.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			st.manager.Stop()
		}
	}()

	r := newRenderer(out, markdown)
	for {
		input, err := line.Prompt(promptStyle.Render("you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if strings.HasPrefix(input, "/") {
			if !slashCommand(out, st.manager, input) {
				return nil
			}
			continue
		}
		if _, err := st.manager.Turn(ctx, input, r); err != nil {
			fmt.Fprintln(out, errorStyle.Render("[error]"), err)
		}
	}
}

// slashCommand runs a REPL command and reports whether to keep going.
func slashCommand(out io.Writer, m *session.Manager, input string) bool {
	switch strings.Fields(input)[0] {
	case "/quit", "/exit":
		return false
	case "/clear":
		if err := m.ClearHistory(); err != nil {
			fmt.Fprintln(out, errorStyle.Render("[error]"), err)
		} else {
			fmt.Fprintln(out, statsStyle.Render("history cleared"))
		}
	case "/stats":
		if s, ok := m.LastGenerationStats(); ok {
			fmt.Fprintln(out, formatStats(s))
		} else {
			fmt.Fprintln(out, statsStyle.Render("no generation yet"))
		}
	case "/history":
		for _, msg := range m.History() {
			text := msg.Content
			if msg.Name != "" {
				text = msg.Name + ": " + text
			}
			fmt.Fprintf(out, "%-9s %s\n", promptStyle.Render(string(msg.Role)), text)
		}
	default:
		fmt.Fprintln(out, "commands: /clear /stats /history /quit")
	}
	return true
}

func chatHistoryFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "streamd", "chat_history")
}

func saveChatHistory(line *liner.State, path string) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}
