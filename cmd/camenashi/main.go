// Command camenashi watches a camera stream, records incidents where a
// target label stays in view, and ships the clips to storage and chat.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/showgayaki/camenashi-kun/internal/config"
	"github.com/showgayaki/camenashi-kun/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "camenashi",
	Short:         "Camera watcher that records and reports detected incidents",
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the YAML config file")
}

// loadConfig reads the config and builds the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, nil
}
