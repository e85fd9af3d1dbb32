// Package repl is the interactive terminal loop for the chat client.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/harunnryd/infrapilot/internal/concurrency"
	apperrors "github.com/harunnryd/infrapilot/internal/errors"
	"github.com/harunnryd/infrapilot/internal/render"
)

type REPL struct {
	chat     Chat
	commands *Commands
	updates  <-chan struct{}
	printer  *render.Printer
	in       io.Reader
	out      io.Writer
}

func New(c Chat, updates <-chan struct{}, in io.Reader, out io.Writer, r *render.Renderer) *REPL {
	return &REPL{
		chat:     c,
		commands: NewCommands(c),
		updates:  updates,
		printer:  render.NewPrinter(out, r),
		in:       in,
		out:      out,
	}
}

// Run reads lines until EOF, /exit or ctx is cancelled, redrawing the
// transcript whenever the conversation changes.
func (r *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	concurrency.SafeGo("repl-input", func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- err
		}
	}, func(err error) { readErr <- err })

	fmt.Fprintf(r.out, "InfraPilot session %s\nType /help for commands, /exit to quit.\n", r.chat.SessionID())
	r.prompt()

	for {
		select {
		case <-ctx.Done():
			r.printer.Finish()
			return nil
		case <-r.updates:
			r.printer.Print(r.chat.Messages())
		case err := <-readErr:
			return err
		case line, ok := <-lines:
			if !ok {
				r.printer.Print(r.chat.Messages())
				r.printer.Finish()
				return nil
			}
			if exit := r.handle(ctx, line); exit {
				r.printer.Finish()
				return nil
			}
			r.prompt()
		}
	}
}

func (r *REPL) handle(ctx context.Context, line string) (exit bool) {
	if r.commands.CanHandle(line) {
		res, err := r.commands.Execute(ctx, line)
		if err != nil {
			r.printer.Finish()
			fmt.Fprintf(r.out, "error: %v\n", err)
			return false
		}
		if res.Reset {
			r.printer.Reset()
		}
		r.printer.Print(r.chat.Messages())
		if res.Output != "" {
			r.printer.Finish()
			fmt.Fprintln(r.out, res.Output)
		}
		return res.Exit
	}

	err := r.chat.SendMessage(ctx, line)
	r.printer.Print(r.chat.Messages())
	if errors.Is(err, apperrors.ErrBusy) {
		r.printer.Finish()
		fmt.Fprintln(r.out, "Still working on the previous request.")
	}
	return false
}

func (r *REPL) prompt() {
	r.printer.Finish()
	fmt.Fprint(r.out, "> ")
}
