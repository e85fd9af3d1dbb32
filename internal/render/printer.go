package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/harunnryd/infrapilot/internal/transcript"
)

type printed struct {
	content string
	card    string
}

// Printer writes a transcript to a stream incrementally. Content that grows
// by appending is printed as a delta; any other change prints the changed
// part again.
type Printer struct {
	w    io.Writer
	r    *Renderer
	seen map[string]printed
	// open is the id of the message whose content line is still unterminated.
	open string
}

func NewPrinter(w io.Writer, r *Renderer) *Printer {
	return &Printer{w: w, r: r, seen: make(map[string]printed)}
}

// Print writes whatever changed since the previous call.
func (p *Printer) Print(msgs []transcript.Message) {
	for _, m := range msgs {
		card := p.r.Card(m)
		prev, ok := p.seen[m.ID]

		switch {
		case !ok:
			p.startLine(m)
			p.write(p.r.Content(m.Content))
		case m.Content == prev.content:
		case strings.HasPrefix(m.Content, prev.content) && p.open == m.ID:
			p.write(p.r.Content(strings.TrimPrefix(m.Content, prev.content)))
		default:
			p.startLine(m)
			p.write(p.r.Content(m.Content))
		}

		if card != "" && card != prev.card {
			p.endLine()
			p.write(card + "\n")
		}
		p.seen[m.ID] = printed{content: m.Content, card: card}
	}
}

// Reset forgets everything printed, as after a cleared conversation.
func (p *Printer) Reset() {
	p.endLine()
	p.seen = make(map[string]printed)
}

// Finish terminates a dangling content line.
func (p *Printer) Finish() {
	p.endLine()
}

func (p *Printer) startLine(m transcript.Message) {
	p.endLine()
	p.write(p.r.Header(m))
	p.open = m.ID
}

func (p *Printer) endLine() {
	if p.open != "" {
		p.write("\n")
		p.open = ""
	}
}

func (p *Printer) write(s string) {
	fmt.Fprint(p.w, s)
}
