package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/danmuck/relaychat/internal/config"
	"github.com/danmuck/relaychat/internal/logging"
	"github.com/danmuck/relaychat/internal/server"
)

type serveFlags struct {
	configPath string
	envFile    string
	listen     string
	wsListen   string
	metrics    string
	debug      bool
}

func newServeCmd() *cobra.Command {
	var flags serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to TOML config file")
	cmd.Flags().StringVar(&flags.envFile, "env-file", "", "Path to .env file (default .env when present)")
	cmd.Flags().StringVarP(&flags.listen, "listen", "l", "", "TCP listen address (overrides config)")
	cmd.Flags().StringVar(&flags.wsListen, "ws-listen", "", "WebSocket listen address (overrides config)")
	cmd.Flags().StringVar(&flags.metrics, "metrics-listen", "", "Prometheus metrics listen address (overrides config)")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Log every bus event")
	return cmd
}

// loadServeConfig layers explicitly set flags over the loaded config.
func loadServeConfig(cmd *cobra.Command, flags serveFlags) (config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{Path: flags.configPath, EnvFile: flags.envFile})
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("listen") {
		cfg.ListenAddr = flags.listen
	}
	if cmd.Flags().Changed("ws-listen") {
		cfg.WSListenAddr = flags.wsListen
	}
	if cmd.Flags().Changed("metrics-listen") {
		cfg.MetricsAddr = flags.metrics
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = flags.debug
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	if cfg.LogLevel != "" {
		if err := logging.SetLevel(cfg.LogLevel); err != nil {
			return err
		}
	}
	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("ws_listen", cfg.WSListenAddr).
		Str("metrics_listen", cfg.MetricsAddr).
		Bool("debug", cfg.Debug).
		Strs("banned", cfg.BannedNames).
		Msg("relaychatd starting")
	return srv.Run(ctx)
}
