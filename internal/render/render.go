// Package render formats transcript messages for a terminal.
package render

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"

	"github.com/harunnryd/infrapilot/internal/transcript"
)

type Renderer struct {
	plain bool

	userStyle      lipgloss.Style
	assistantStyle lipgloss.Style
	errorStyle     lipgloss.Style
	summaryStyle   lipgloss.Style
	optionStyle    lipgloss.Style
	runningStyle   lipgloss.Style
	successStyle   lipgloss.Style
	failureStyle   lipgloss.Style
	keyStyle       lipgloss.Style
	valueStyle     lipgloss.Style
	borderStyle    lipgloss.Style
}

// New returns a renderer. A plain renderer emits no ANSI styling.
func New(plain bool) *Renderer {
	purple := lipgloss.Color("99")
	cyan := lipgloss.Color("87")
	gray := lipgloss.Color("245")
	red := lipgloss.Color("203")
	green := lipgloss.Color("78")
	yellow := lipgloss.Color("221")

	return &Renderer{
		plain:          plain,
		userStyle:      lipgloss.NewStyle().Foreground(cyan).Bold(true),
		assistantStyle: lipgloss.NewStyle().Foreground(purple).Bold(true),
		errorStyle:     lipgloss.NewStyle().Foreground(red),
		summaryStyle:   lipgloss.NewStyle().Foreground(gray).Italic(true),
		optionStyle:    lipgloss.NewStyle().Foreground(purple),
		runningStyle:   lipgloss.NewStyle().Foreground(yellow),
		successStyle:   lipgloss.NewStyle().Foreground(green),
		failureStyle:   lipgloss.NewStyle().Foreground(red),
		keyStyle:       lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1),
		valueStyle:     lipgloss.NewStyle().Padding(0, 1),
		borderStyle:    lipgloss.NewStyle().Foreground(purple),
	}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if r.plain {
		return text
	}
	return s.Render(text)
}

// Header is the role prompt that starts a message.
func (r *Renderer) Header(m transcript.Message) string {
	if m.Role == transcript.RoleUser {
		return r.style(r.userStyle, "you ›") + " "
	}
	return r.style(r.assistantStyle, "infrapilot ›") + " "
}

// Content renders the message body text.
func (r *Renderer) Content(content string) string {
	if strings.HasPrefix(content, "❌") {
		return r.style(r.errorStyle, content)
	}
	return content
}

// Card renders everything about a message except its streamed content:
// summary, parsed command, decision options, execution status and raw output.
func (r *Renderer) Card(m transcript.Message) string {
	var parts []string

	if m.Summary != "" {
		parts = append(parts, r.style(r.summaryStyle, m.Summary))
	}
	if m.ParsedCommand != nil {
		parts = append(parts, r.Command(*m.ParsedCommand))
	}
	if m.IsDecision {
		parts = append(parts, r.options(m))
	}
	if m.IsEditMode {
		parts = append(parts, r.style(r.summaryStyle, "edit with: /edit <key>=<value> ..."))
	}
	if m.ExecutionStatus != nil {
		parts = append(parts, r.Status(*m.ExecutionStatus))
	}
	if m.RawContent != "" && m.RawContent != m.Content {
		parts = append(parts, r.style(r.summaryStyle, m.RawContent))
	}

	return strings.Join(parts, "\n")
}

// Message renders a full message block.
func (r *Renderer) Message(m transcript.Message) string {
	out := r.Header(m) + r.Content(m.Content)
	if card := r.Card(m); card != "" {
		out += "\n" + card
	}
	return out
}

func (r *Renderer) Command(cmd transcript.ParsedCommand) string {
	rows := [][]string{
		{"action", cmd.Action},
		{"resource", cmd.Resource},
	}
	if cmd.Provider != "" {
		rows = append(rows, []string{"provider", cmd.Provider})
	}
	if cmd.Tool != "" {
		rows = append(rows, []string{"tool", cmd.Tool})
	}
	for _, k := range slices.Sorted(maps.Keys(cmd.Parameters)) {
		rows = append(rows, []string{k, fmt.Sprint(cmd.Parameters[k])})
	}

	if r.plain {
		lines := make([]string, len(rows))
		for i, row := range rows {
			lines[i] = fmt.Sprintf("  %s: %s", row[0], row[1])
		}
		return strings.Join(lines, "\n")
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return r.keyStyle
			}
			return r.valueStyle
		}).
		Rows(rows...)
	return t.String()
}

func (r *Renderer) options(m transcript.Message) string {
	lines := []string{r.style(r.summaryStyle, "decision "+ShortID(m.DecisionID))}
	for _, o := range m.DecisionOptions {
		line := fmt.Sprintf("  [%s] %s", o.ID, o.Label)
		if o.Description != "" {
			line += ": " + o.Description
		}
		lines = append(lines, r.style(r.optionStyle, line))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) Status(s transcript.ExecutionStatus) string {
	switch {
	case s.IsRunning:
		return r.style(r.runningStyle, "⏳ "+s.Message)
	case s.IsComplete && s.Success:
		return r.style(r.successStyle, "✔ "+s.Message)
	case s.IsComplete:
		return r.style(r.failureStyle, "✖ "+s.Message)
	default:
		return s.Message
	}
}

// ShortID abbreviates an identifier for display.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
