package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/infrapilot/internal/config"
	"github.com/harunnryd/infrapilot/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "infrapilot",
	Short: "InfraPilot chat client",
	Long:  `InfraPilot is a terminal client for the infrastructure automation chat backend.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cmd)
		if err != nil {
			return err
		}

		logger.Setup(cfg.Server.LogLevel)
		return nil
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.infrapilot/config.yaml)")
	rootCmd.PersistentFlags().String("server.base_url", config.DefaultServerBaseURL, "backend base URL")
	rootCmd.PersistentFlags().String("server.log_level", config.DefaultServerLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("stream.transport", config.DefaultStreamTransport, "push stream transport (sse, websocket)")
}
