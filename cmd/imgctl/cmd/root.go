// Package cmd implements the imgctl administration commands.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/qxebear/upload-pics/internal/config"
	"github.com/qxebear/upload-pics/internal/image"
	"github.com/qxebear/upload-pics/internal/logging"
	"github.com/qxebear/upload-pics/internal/storage"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "imgctl",
	Short:        "Inspect and maintain the upload index and its blobs",
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	slog.SetDefault(logging.CreateLogger())
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		slog.Error("failed to execute command", "error", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("driver", "", "Store driver override (redis, badger, postgres, minio)")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()
	driver, err := cmd.Flags().GetString("driver")
	if err != nil {
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}
	if driver != "" {
		cfg.StoreDriver = driver
	}
	return cfg, nil
}

// openService connects the configured store and builds the image service on
// it. The returned close func releases the store.
func openService(ctx context.Context, cmd *cobra.Command) (*image.Service, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			slog.Warn("failed to close store", "error", err)
		}
	}

	svc, err := image.NewService(image.NewRepository(store, cfg.KeyPrefix), cfg, nil, slog.Default())
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return svc, closeStore, nil
}
