package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/battguard/internal/backoff"
	"codeberg.org/mutker/battguard/internal/brightness"
	"codeberg.org/mutker/battguard/internal/config"
	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/lockfile"
	"codeberg.org/mutker/battguard/internal/logger"
	"codeberg.org/mutker/battguard/internal/monitor"
	"codeberg.org/mutker/battguard/internal/notify"
	"codeberg.org/mutker/battguard/internal/power"
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	applyLogLevel(config.LogLevel(cfg.LogLevel))
	logger.Debug().Msg("Config loaded")
}

func main() {
	errFactory := errors.New()

	if err := lockfile.Acquire(); err != nil {
		var appErr errors.Error
		if !errors.As(err, &appErr) {
			appErr = errFactory.Wrap(errors.ErrLockFailed, err)
		}
		logger.ErrorWithCode(appErr).Str("lockfile", lockfile.Path()).Msg("Failed to acquire lock")
		os.Exit(1)
	}
	defer func() {
		if err := lockfile.Release(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release lock")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	reader := power.NewStatusReader(ctx)
	if !reader.BatteryPresent() {
		logger.FatalWithCode(errFactory.New(errors.ErrNoBattery)).Msg("No battery found; nothing to guard")
	}

	var sender notify.Sender
	if !cfg.Monitor {
		notifier, err := notify.NewNotifier()
		if err != nil {
			logger.Warn().Err(err).Msg("Desktop notifications unavailable")
		} else {
			sender = notifier
			defer notifier.Close()
		}
	}

	var controller *brightness.Controller
	if cfg.BrightnessControl {
		controller = brightness.NewController()
		if !controller.Available() {
			logger.Warn().Msg("No brightness backend found; brightness control disabled")
		}
	}

	supervisor := monitor.NewSupervisor(cfg, reader, sender, controller)
	supervisor.Start(ctx)
	defer supervisor.Stop()

	if cfg.Monitor {
		logger.Info().Msg("Monitor mode activated. Logging power status...")
	}

	if err := loop(ctx, supervisor); err != nil {
		logger.ErrorWithCode(errFactory.Wrap(errors.ErrMainLoop, err)).Msg("error in main loop")
	}
	logger.Info().Msg("Exiting...")
}

// loop polls at a variable cadence: the backoff scheduler grows the
// interval while nothing changes, and a healthy event backend raises the
// floor so polling is only a safety net.
func loop(ctx context.Context, supervisor *monitor.Supervisor) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	interval := backoff.NewState(cfg).Interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			obs, changed := supervisor.Poll(ctx)
			interval = backoff.Next(obs.Percent, obs.ACStatus, changed, cfg, interval)
			interval = backoff.Floor(interval, obs.Percent, cfg, supervisor.EventsHealthy())

			logger.Debug().
				Int("percent", obs.Percent).
				Str("ac_status", obs.ACStatus.String()).
				Str("backend", supervisor.Backend()).
				Dur("next_poll", interval).
				Msg("Poll cycle complete")

			timer.Reset(interval)
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func applyLogLevel(level config.LogLevel) {
	if cfg.Debug || cfg.Verbose {
		return
	}

	switch level {
	case config.LogLevelDebug:
		logger.SetLogLevel(logger.DebugLevel)
	case config.LogLevelInfo:
		logger.SetLogLevel(logger.InfoLevel)
	case config.LogLevelWarning:
		logger.SetLogLevel(logger.WarnLevel)
	case config.LogLevelError:
		logger.SetLogLevel(logger.ErrorLevel)
	}
}
