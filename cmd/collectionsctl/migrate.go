package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recoverly/golang_services/internal/platform/database"
)

func migrateCmd() *cobra.Command {
	var printOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the idempotent database schema",
		Long: `Apply the schema (debtors, debts, email_threads, emails, ai_usage, payments).

Every statement is guarded with IF NOT EXISTS, so running it twice is harmless.

Examples:
  collectionsctl migrate
  collectionsctl migrate --print > schema.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), database.Schema())
				return nil
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.NewDBPool(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.ApplySchema(cmd.Context(), pool); err != nil {
				return err
			}
			log.Info("Schema applied")
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema instead of applying it")
	return cmd
}
