package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/floorbook/floorbook/internal/tablesrv/db"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the relational schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Create or update tables, constraints and row level security policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDb(cmd.Context(), func(ctx context.Context) error {
				if err := db.ApplySchema(ctx); err != nil {
					return err
				}
				printOK(cmd, "schema applied", map[string]any{"status": "applied"})
				return nil
			})
		},
	})
	return cmd
}
