package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mkravtsov/wakewatch/internal/config"
	"github.com/mkravtsov/wakewatch/internal/logger"
	"github.com/mkravtsov/wakewatch/internal/service/server"
	"github.com/mkravtsov/wakewatch/internal/version"
)

var (
	// configPath stores the path to the configuration YAML file.
	configPath string
	// alarmsFile path where the alarm set is persisted.
	alarmsFile string
	// logLevel sets the minimum level for log output.
	logLevel string
	// replaceAgent switches agent registration from reject to supersede.
	replaceAgent bool

	// rootCmd represents the base command for running the sync server.
	rootCmd = &cobra.Command{
		Use:   "wakewatch-server [listen-address]",
		Short: "Run the alarm sync server.",
		Long: `Starts the central sync service that browsers and the execution agent
connect to over websocket.

The server authenticates every connection with a signed bearer token, keeps
the authoritative alarm set, pushes full state after each handshake and
incremental deltas on every mutation, and reaps silent connections through a
heartbeat sweep. At most one execution agent may be connected at a time.

Listen address can be provided as argument to override config (e.g., :8080).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if level, ok := logger.ParseLogLevel(logLevel); ok {
				logger.SetLevel(level)
			}

			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				AlarmsFile:    alarmsFile,
				ReplaceAgent:  replaceAgent,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the wakewatch-server CLI and exits with non-zero status on error.
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
	rootCmd.Flags().
		StringVarP(&alarmsFile, "alarms-file", "a", config.DefaultAlarmsFilename, "path to persist the alarm set")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "minimum log level (debug, info, warn, error)")
	rootCmd.Flags().
		BoolVar(&replaceAgent, "replace-agent", false, "let a newly registering agent supersede the incumbent")
}
