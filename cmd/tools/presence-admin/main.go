// cmd/tools/presence-admin/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"presence-tracker/internal/app"
	"presence-tracker/internal/common/config"
	"presence-tracker/internal/common/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "presence-admin",
	Short:         "Inspect and maintain presence-tracker state",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: configs/config.yaml lookup)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func newLogger() logger.Logger {
	// zap's development config writes to stderr, keeping stdout for command output
	return logger.NewStructured(logLevel, "console")
}

// openCore connects to the configured stores. The caller must Close the result.
func openCore(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Backend == config.BackendMemory {
		fmt.Fprintln(os.Stderr, "warning: storage.backend is memory; this process sees an empty store")
	}
	return app.New(ctx, cfg, app.Options{Logger: newLogger(), ConnectAttempts: 3})
}
