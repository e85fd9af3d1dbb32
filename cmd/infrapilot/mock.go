package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/harunnryd/infrapilot/internal/backend/fakebackend"
)

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Run a scripted local backend",
	Long:  `Serve a fake chat backend that answers every message with an intent and a decision, for trying the client without real infrastructure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := ShutdownContext(commandContext(cmd))
		defer stop()

		server := fakebackend.New()
		server.Start(cfg.Mock.Port)
		fmt.Printf("Mock backend listening on http://localhost:%d\n", cfg.Mock.Port)

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Stop(shutdownCtx)
	},
}

func init() {
	mockCmd.Flags().Int("mock.port", 8080, "port to listen on")
	rootCmd.AddCommand(mockCmd)
}
