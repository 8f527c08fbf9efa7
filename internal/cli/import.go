package cli

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/config"
	"github.com/floorbook/floorbook/internal/tablesrv/csvimport"
)

func newImportCmd() *cobra.Command {
	var af actorFlags
	var tableID, tabName, file, comma string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a CSV file into a new tab of a table",
		Long: `Load a CSV file into a new tab of a table. The first line holds the
column names. Columns whose values are all numeric become number columns,
the others text. The tab is created with all of its rows or not at all.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := af.actor()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(tableID)
			if err != nil {
				return fmt.Errorf("invalid --table: %w", err)
			}
			sep, err := parseComma(comma)
			if err != nil {
				return err
			}
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			return withDb(cmd.Context(), func(ctx context.Context) error {
				e, err := newEngine(ctx)
				if err != nil {
					return err
				}
				tab, aerr := csvimport.Import(ctx, e, actor, id, tabName, f,
					csvimport.WithComma(sep),
					csvimport.WithMaxRows(config.Config().Engine.MaxBulkRows))
				if aerr != nil {
					return aerr
				}
				printOK(cmd, fmt.Sprintf("imported %s into tab %s (%s)", file, tab.Name, tab.TabID), map[string]any{
					"table_id": id,
					"tab_id":   tab.TabID,
					"name":     tab.Name,
				})
				return nil
			})
		},
	}
	af.register(cmd)
	cmd.Flags().StringVar(&tableID, "table", "", "Table id the tab is added to")
	cmd.Flags().StringVar(&tabName, "tab", "", "Name of the new tab")
	cmd.Flags().StringVarP(&file, "file", "f", "", "CSV file to import")
	cmd.Flags().StringVar(&comma, "comma", ",", "Field delimiter")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("tab")
	return cmd
}

// parseComma accepts a single character delimiter, or "tab".
func parseComma(s string) (rune, error) {
	if s == "tab" || s == `\t` {
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 || size != len(s) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid --comma %q: expected a single character", s)
	}
	return r, nil
}
