package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/config"
	"github.com/zhenyuanlu/haybeat/internal/storage"
)

var (
	backendFlag string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:          "habitctl",
	Short:        "habitctl inspects and maintains a haybeat store",
	Long:         "habitctl reads the same environment as the haybeat server and runs maintenance and reporting tasks against its store.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Override STORAGE_BACKEND (file, sqlite, postgres, mongo)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")
}

// openStore loads the configuration and opens its backend. The caller owns
// the returned repositories.
func openStore(ctx context.Context) (*config.Config, internal.Logger, *storage.Repositories, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, nil, nil, err
	}
	if backendFlag != "" {
		cfg.StorageBackend = backendFlag
		if err := cfg.Validate(); err != nil {
			return nil, nil, nil, err
		}
	}
	logger, err := internal.NewLogger(cfg.Env, cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, nil, err
	}
	repos, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, repos, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
