package main

import (
	"github.com/spf13/cobra"

	"github.com/rpattn/loadflow/internal/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return db.RunMigrations(cmd.Context(), a.cfg.Database)
		},
	}
}
