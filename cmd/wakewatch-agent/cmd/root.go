package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkravtsov/wakewatch/internal/config"
	"github.com/mkravtsov/wakewatch/internal/logger"
	"github.com/mkravtsov/wakewatch/internal/service/agent"
	"github.com/mkravtsov/wakewatch/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// alarmScript path the agent runs when an alarm fires.
	alarmScript string
	// logLevel sets the minimum level for log output.
	logLevel string

	// rootCmd represents the base command for running the execution agent.
	rootCmd = &cobra.Command{
		Use:   "wakewatch-agent [server-url]",
		Short: "Run the alarm execution agent.",
		Long: `Background service that executes alarms on this machine.

Connects to the sync server over websocket, mirrors the alarm set locally,
computes the next occurrence per alarm in the configured timezone, and at
fire time runs the alarm script under an execution lock so at most one alarm
action is in flight. Reconnects with bounded backoff when the connection
drops; exits when the session is terminally lost or the token is rejected.

Server URL can be provided as argument to override config (e.g., ws://host:8080/ws).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use server URL argument if provided, otherwise rely on config.
			var serverURL string
			if len(args) > 0 {
				serverURL = args[0]
			}

			options := &agent.Options{
				ConfigPath:  configPath,
				ServerURL:   serverURL,
				AlarmScript: alarmScript,
			}

			return agent.Run(ctx, options)
		},
	}
)

// Execute runs the wakewatch-agent CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&alarmScript, "alarm-script", "s", "", "path to the alarm script to run on fire")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "minimum log level (debug, info, warn, error)")
}
