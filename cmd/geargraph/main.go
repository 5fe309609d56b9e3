// Package main provides the geargraph command line: the HTTP service and
// one-shot ingest, audit and schema commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/agenthands/geargraph/internal/config"
	"github.com/agenthands/geargraph/internal/logger"
)

var version = "0.1.0-dev"

const defaultConfigPath = "config/config.toml"

type globalFlags struct {
	configPath string
	store      string
}

var flags globalFlags

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:           "geargraph",
		Short:         "Curates outdoor gear mentions into a deduplicated equipment graph",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	configDefault := os.Getenv("CONFIG_PATH")
	if configDefault == "" {
		configDefault = defaultConfigPath
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", configDefault, "Path to the TOML config file")
	rootCmd.PersistentFlags().StringVar(&flags.store, "store", "", "Override persistence.store (memgraph or memory)")

	rootCmd.AddCommand(
		newServeCmd(),
		newIngestCmd(),
		newAuditCmd(),
		newIndicesCmd(),
	)

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig reads the config file and environment overrides. A missing
// file is only tolerated when the path was not chosen explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		explicit := cmd.Flags().Changed("config") || os.Getenv("CONFIG_PATH") != ""
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if flags.store != "" {
		cfg.Persistence.Store = flags.store
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}
