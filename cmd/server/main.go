package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/spacerelay/internal/app"
	"github.com/vovakirdan/spacerelay/internal/config"
	applog "github.com/vovakirdan/spacerelay/internal/log"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the presence relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, overrides)
		},
	}

	root := &cobra.Command{
		Use:          "spacerelay",
		Short:        "Presence relay for shared spaces",
		SilenceUsage: true,
		RunE:         serveCmd.RunE,
	}

	for _, c := range []*cobra.Command{root, serveCmd} {
		f := c.Flags()
		f.StringVar(&configPath, "config", "", "path to config.yaml")
		f.StringVar(&overrides.Addr, "addr", "", "HTTP listen address")
		f.DurationVar(&overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
		f.DurationVar(&overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
		f.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
		f.StringVar(&overrides.LogFormat, "log-format", "", "log format (console, json)")
		f.DurationVar(&overrides.BatchInterval, "batch-interval", 0, "watcher batch coalescing window")
		f.IntVar(&overrides.Shards, "shards", 0, "number of hub shards")
		f.IntVar(&overrides.BackID, "back-id", 0, "backend id announced upstream")
		f.StringVar(&overrides.Backend.Kind, "backend", "", "backend link: none, ws, redis, journal")
		f.StringVar(&overrides.Backend.URL, "backend-url", "", "backend websocket URL")
		f.StringVar(&overrides.Backend.RedisURL, "redis-url", "", "Redis URL")
		f.StringVar(&overrides.Backend.JournalPath, "journal-path", "", "SQLite journal path")
	}

	root.AddCommand(serveCmd, &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}

func runServe(parent context.Context, configPath string, overrides config.Config) error {
	bootLog := applog.New("info", "console")

	cfg, path, err := config.Load(bootLog, configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(overrides)

	logger := applog.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Str("config", path).Str("version", version).Msg("starting spacerelay")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		return err
	}
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
