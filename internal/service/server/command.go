package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mkravtsov/wakewatch/internal/config"
	"github.com/mkravtsov/wakewatch/internal/logger"
	"github.com/mkravtsov/wakewatch/internal/repository/alarms"
	"github.com/mkravtsov/wakewatch/internal/server/hub"
	"github.com/mkravtsov/wakewatch/internal/server/registry"
)

// Options controls the wakewatch-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ListenAddress provides an optional listen address override.
	ListenAddress string
	// AlarmsFile provides an optional alarm store path override.
	AlarmsFile string
	// ReplaceAgent switches the agent registration policy from reject to
	// supersede: a newly registering agent replaces the incumbent.
	ReplaceAgent bool
}

// Run starts the sync server and blocks until the context is cancelled or
// the server stops. Loads configuration first, then serves the websocket
// endpoint and runs the liveness sweeper.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "wakewatch-server")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.ListenAddress != "" {
		settings.ListenAddress = opts.ListenAddress
	}

	if opts.AlarmsFile != "" {
		settings.AlarmsFile = opts.AlarmsFile
	}

	if err = config.ValidateServer(settings); err != nil {
		return fmt.Errorf("validate settings: %w", err)
	}

	store, err := alarms.NewFileStore(settings.AlarmsFile)
	if err != nil {
		return fmt.Errorf("open alarm store: %w", err)
	}

	var registryOpts []registry.Option
	if opts.ReplaceAgent {
		registryOpts = append(registryOpts, registry.WithReplaceAgent())
	}

	sessions := registry.New(registryOpts...)
	syncHub := hub.New(sessions, store, settings.AuthSecret)

	router := chi.NewRouter()
	router.Handle("/ws", syncHub)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:              settings.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: settings.Timeout,
	}

	// The sweeper reaps connections that die without a read error.
	go sessions.RunSweeper(ctx)

	logger.InfoKV(ctx, "Sync server listening",
		"listen_address", settings.ListenAddress, "alarms_file", settings.AlarmsFile)

	// Done channel is closed after Shutdown finishes to ensure we block
	// until in-flight connections drain before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down sync server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Timeout)
		defer cancel()

		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.ErrorKV(ctx, "Shutdown did not finish cleanly", "error", shutdownErr)
		}

		close(done)
	}()

	if err = httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	<-done
	logger.Info(ctx, "Sync server stopped")

	return nil
}
