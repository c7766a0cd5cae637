package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, repos, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		if err := repos.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s store is up to date\n", cfg.StorageBackend)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
