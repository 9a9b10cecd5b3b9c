package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"gerrithooks/internal"
	"gerrithooks/pkg/hook"
	"gerrithooks/pkg/softwarefactory"
	"gerrithooks/pkg/tracker"
	"gerrithooks/pkg/worker"
	"gerrithooks/pkg/zuul"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	verbose := flag.Bool("verbose", false, "Force debug logging")
	flag.Parse()

	bootLogger := internal.NewLogger("info")

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		bootLogger.Error().Err(err).Str("path", *configPath).Msg("could not load configuration")
		os.Exit(1)
	}
	level := config.Logging.Level
	if *verbose {
		level = "debug"
	}
	logger := internal.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hooks, err := buildHooks(ctx, config, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not build hooks")
		os.Exit(1)
	}

	brokerCfg, err := worker.LoadBrokerConfig(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("could not load broker configuration")
		os.Exit(1)
	}
	subscriber, err := worker.BuildSubscriber(brokerCfg, internal.NewWatermillLogger(logger))
	if err != nil {
		logger.Error().Err(err).Msg("could not connect to the broker")
		os.Exit(1)
	}

	runner := worker.New(
		worker.WithSubscriber(subscriber),
		worker.WithTopics(brokerCfg.Topics...),
		worker.WithHooks(hooks...),
		worker.WithLogger(internal.ComponentLogger(logger, "worker")),
		worker.WithListener(metricsListener(logger)),
	)
	defer runner.Close()

	if err := runner.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("worker stopped")
		os.Exit(1)
	}
	if ctx.Err() != nil {
		logger.Info().Msg("manual interruption")
		os.Exit(2)
	}
}

// buildHooks instantiates every configured hook. Tracker hooks connect to
// their Taiga project up front so that credential problems surface at
// startup rather than on the first event.
func buildHooks(ctx context.Context, config internal.Config, logger zerolog.Logger) ([]hook.Hook, error) {
	var hooks []hook.Hook

	for _, cfg := range config.Hooks.Tracker {
		client := tracker.NewClient(tracker.Config{
			URL:      cfg.Taiga.URL,
			Project:  cfg.Taiga.Project,
			Username: cfg.Taiga.Auth.Username,
			Password: cfg.Taiga.Auth.Password,
		}, logger)
		if err := client.Connect(ctx); err != nil {
			return nil, err
		}
		h, err := tracker.NewHook(cfg.Project, cfg.When, client, logger)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}

	if len(config.Hooks.Autohold) > 0 {
		factory := softwarefactory.NewClient(config.SoftwareFactory, logger)
		for _, cfg := range config.Hooks.Autohold {
			h, err := zuul.NewHook(cfg.Project, cfg.When, factory, logger)
			if err != nil {
				return nil, err
			}
			hooks = append(hooks, h)
		}
	}

	for range config.Hooks.Debug {
		hooks = append(hooks, hook.NewDebugHook(logger))
	}

	return hooks, nil
}

// metricsListener wires the worker lifecycle into the expvar counters.
func metricsListener(logger zerolog.Logger) worker.Listener {
	return worker.Listener{
		OnStart: func(ctx context.Context) {
			logger.Info().Msg("listening for gerrit events")
		},
		OnExit: func(ctx context.Context) {
			logger.Info().Msg("shutting down")
		},
		OnMessage: func(ctx context.Context, msg hook.Message) {
			internal.IncMessage(msg.Topic)
		},
		OnHookError: func(ctx context.Context, hookName string, msg hook.Message, err error) {
			internal.IncHookError(hookName)
		},
	}
}
