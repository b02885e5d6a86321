package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"streamd/pkg/types"
)

var (
	thinkingStyle = lipgloss.NewStyle().Faint(true).Italic(true)
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	failStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	statsStyle    = lipgloss.NewStyle().Faint(true)
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

// renderer prints a turn as it streams: thinking dimmed, tool calls
// highlighted, answer text plain. With markdown set the answer is held back
// and rendered through glamour when the turn ends.
type renderer struct {
	out      io.Writer
	markdown *glamour.TermRenderer

	mu     sync.Mutex
	answer strings.Builder
	names  map[string]string
}

func newRenderer(out io.Writer, markdown bool) *renderer {
	r := &renderer{out: out, names: map[string]string{}}
	if markdown {
		tr, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(80))
		if err == nil {
			r.markdown = tr
		}
	}
	return r
}

func (r *renderer) Emit(e types.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch ev := e.(type) {
	case types.GenerationStartEvent:
		r.answer.Reset()
	case types.ThinkingStartEvent:
		fmt.Fprint(r.out, thinkingStyle.Render("thinking: "))
	case types.ThinkingChunkEvent:
		fmt.Fprint(r.out, thinkingStyle.Render(ev.Chunk))
	case types.ThinkingEndEvent:
		fmt.Fprintln(r.out)
	case types.TokenEvent:
		r.answer.WriteString(ev.Token)
		if r.markdown == nil {
			fmt.Fprint(r.out, ev.Token)
		}
	case types.ToolCallStartEvent:
		r.names[ev.ID] = ev.Name
		fmt.Fprintln(r.out, toolStyle.Render("→ "+ev.Name), ev.Arguments)
	case types.ToolCallCompletedEvent:
		fmt.Fprintln(r.out, toolStyle.Render("← "+r.names[ev.ID]), ev.Result)
	case types.ToolCallFailedEvent:
		fmt.Fprintln(r.out, failStyle.Render("✗ "+r.names[ev.ID]+": "+ev.Error))
	case types.GenerationEndEvent:
		if r.markdown != nil {
			if md, err := r.markdown.Render(r.answer.String()); err == nil {
				fmt.Fprint(r.out, md)
			} else {
				fmt.Fprint(r.out, r.answer.String())
			}
		}
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, statsStyle.Render(formatStats(ev.Stats)))
	}
}

func formatStats(s types.GenerationStats) string {
	return fmt.Sprintf("%.0f tokens · %.1f tok/s · first token %.0fms · total %.0fms · tools %.0fms",
		s.TokenCount, s.TokensPerSecond, s.TimeToFirstToken, s.TotalTime, s.ToolExecutionTime)
}
