package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/harunnryd/infrapilot/cmd/infrapilot/repl"
	"github.com/harunnryd/infrapilot/internal/chat"
	"github.com/harunnryd/infrapilot/internal/render"
)

var plainOutput bool

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long:  `Open a backend session, stream its events and chat from the terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := ShutdownContext(commandContext(cmd))
		defer stop()

		client, err := chat.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create chat client: %w", err)
		}
		defer client.Close()

		if err := client.Start(ctx); err != nil {
			// The first message retries session creation.
			fmt.Fprintf(os.Stderr, "warning: could not reach %s: %v\n", cfg.Server.BaseURL, err)
		}

		plain := plainOutput || os.Getenv("NO_COLOR") != "" || !term.IsTerminal(os.Stdout.Fd())
		r := repl.New(client, client.Updates(), os.Stdin, os.Stdout, render.New(plain))
		return r.Run(ctx)
	},
}

func init() {
	chatCmd.Flags().BoolVar(&plainOutput, "plain", false, "disable colored output")
	rootCmd.AddCommand(chatCmd)
}

// cmd.Context() is nil when a command is invoked directly in tests.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
