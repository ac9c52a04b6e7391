package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Comcenn/jamgenguessr/internal/app"
	"github.com/Comcenn/jamgenguessr/internal/config"
	"github.com/Comcenn/jamgenguessr/internal/log"
)

type flags struct {
	configPath string
	overrides  config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:          "jamgenguessr",
		Short:        "Real-time multiplayer image guessing game server.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", "", "path to config file (env: JAMGEN_CONFIG_DEFAULT_PATH for the directory)")
	fs.StringVar(&f.overrides.Addr, "addr", "", "HTTP listen address (env: JAMGEN_ADDR)")
	fs.StringVar(&f.overrides.LogLevel, "log-level", "", "log level: debug, info, warn, error (env: JAMGEN_LOG_LEVEL)")
	fs.StringVar(&f.overrides.Broker, "broker", "", "event broker: memory or redis (env: JAMGEN_BROKER)")
	fs.StringVar(&f.overrides.RedisAddr, "redis-addr", "", "redis address for the redis broker (env: JAMGEN_REDIS_ADDR)")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	bootLogger := log.New(f.overrides.LogLevel, log.FormatConsole)

	cfg, path, err := config.Load(bootLogger, f.configPath)
	if err != nil {
		bootLogger.Error().Err(err).Str("path", path).Msg("failed to load config")
		return err
	}
	cfg.UpdateFrom(f.overrides)
	if err := cfg.Validate(); err != nil {
		bootLogger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Str("config", path).Str("broker", cfg.Broker).Msg("starting jamgenguessr server")

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize app")
		return err
	}

	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
