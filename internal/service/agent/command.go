package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkravtsov/wakewatch/internal/agent/client"
	"github.com/mkravtsov/wakewatch/internal/agent/execlock"
	"github.com/mkravtsov/wakewatch/internal/agent/runner"
	"github.com/mkravtsov/wakewatch/internal/agent/scheduler"
	"github.com/mkravtsov/wakewatch/internal/config"
	"github.com/mkravtsov/wakewatch/internal/logger"
	"github.com/mkravtsov/wakewatch/internal/protocol"
)

// Options controls the wakewatch-agent process and configuration.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// ServerURL provides an optional websocket endpoint override.
	ServerURL string
	// AlarmScript provides an optional alarm script path override.
	AlarmScript string
}

// Run starts the execution agent and blocks until the context is cancelled
// or the session is terminally lost. It wires the sync client, the local
// scheduler and the execution lock into one pipeline: server pushes deltas,
// the scheduler arms occurrences, the controller fires them under the lock.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "wakewatch-agent")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	if opts.ServerURL != "" {
		settings.ServerURL = opts.ServerURL
	}

	if opts.AlarmScript != "" {
		settings.AlarmScript = opts.AlarmScript
	}

	if err = config.ValidateAgent(settings); err != nil {
		return fmt.Errorf("validate settings: %w", err)
	}

	location, err := settings.Location()
	if err != nil {
		return fmt.Errorf("resolve timezone: %w", err)
	}

	executor := runner.NewScriptExecutor(
		settings.AlarmScript, runner.WithMaxDuration(settings.MaxAlarmDuration))

	// A busy device is contention, not failure: the retry policy handles it
	// the same way as a held lock.
	controller := execlock.NewController(execlock.NewLock(), executor,
		execlock.WithRetryableErrors(func(err error) bool {
			return errors.Is(err, runner.ErrDeviceBusy)
		}))

	sched := scheduler.New(location, controller.Fire)
	sched.Start(ctx)

	defer sched.Stop()

	syncClient := client.New(settings.ServerURL, settings.Token, protocol.RoleAgent, sched)

	logger.InfoKV(ctx, "Execution agent starting",
		"server_url", settings.ServerURL, "timezone", location.String(),
		"alarm_script", settings.AlarmScript)

	if err = syncClient.Run(ctx); err != nil {
		return fmt.Errorf("sync session: %w", err)
	}

	logger.Info(ctx, "Execution agent stopped")

	return nil
}
