package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/chunlea/computer-use-with-nanokvm/internal/agent"
	"github.com/chunlea/computer-use-with-nanokvm/internal/bus"
	"github.com/chunlea/computer-use-with-nanokvm/pkg/protocol"
)

const previewWidth = 72

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	promptStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
)

// renderer prints the conversation. Progress goes to err, answers to out.
type renderer struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
}

func newRenderer() *renderer {
	return &renderer{out: os.Stdout, err: os.Stderr}
}

func (r *renderer) banner(lines ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.err, titleStyle.Render(lines[0]))
	for _, l := range lines[1:] {
		fmt.Fprintln(r.err, dimStyle.Render(l))
	}
	fmt.Fprintln(r.err)
}

func (r *renderer) prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.err, promptStyle.Render("You: "))
}

func (r *renderer) answer(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "\n%s\n\n", assistantStyle.Render(text))
}

func (r *renderer) info(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.err, dimStyle.Render(fmt.Sprintf(format, args...)))
}

func (r *renderer) error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.err, errorStyle.Render("Error: "+err.Error()))
}

func (r *renderer) toolCall(call protocol.ToolCall) {
	desc := call.Name
	if a, err := call.Action(); err == nil {
		desc = a.String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.err, toolStyle.Render("  [tool] "+preview(desc)))
}

func (r *renderer) toolFailed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.err, errorStyle.Render("  [tool] "+name+" -> error"))
}

// agentEvent renders a local session's bus events.
func (r *renderer) agentEvent(ev bus.Event) {
	e, ok := ev.Payload.(agent.Event)
	if !ok || ev.Name != protocol.EventAgent {
		return
	}
	switch e.Type {
	case protocol.AgentEventToolCall:
		if e.Tool != nil {
			r.toolCall(*e.Tool)
		}
	case protocol.AgentEventToolResult:
		if e.IsError && e.Tool != nil {
			r.toolFailed(e.Tool.Name)
		}
	}
}

// preview collapses whitespace and truncates to the terminal preview width,
// counting East Asian wide characters as two cells.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, previewWidth, "...")
}
