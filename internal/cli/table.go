package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floorbook/floorbook/internal/common/uuid"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
	"github.com/floorbook/floorbook/internal/tablesrv/tablemanager"
)

type actorFlags struct {
	tenant string
	user   string
}

func (f *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "Tenant the command acts in")
	cmd.Flags().StringVar(&f.user, "user", "", "User the command acts as")
}

func (f *actorFlags) actor() (tablecommon.Actor, error) {
	return actorFromFlags(f.tenant, f.user)
}

func newTableCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "table",
		Short: "Create, list and share tables",
	}
	cmd.AddCommand(newTableCreateCmd(), newTableListCmd(), newTableShareCmd())
	return cmd
}

func newTableCreateCmd() *cobra.Command {
	var af actorFlags
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty table shared with the acting user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := af.actor()
			if err != nil {
				return err
			}
			return withDb(cmd.Context(), func(ctx context.Context) error {
				e, err := newEngine(ctx)
				if err != nil {
					return err
				}
				table, aerr := e.CreateTable(ctx, actor, &tablemanager.CreateTableRequest{Name: name})
				if aerr != nil {
					return aerr
				}
				printOK(cmd, fmt.Sprintf("created table %s (%s)", table.Name, table.TableID), map[string]any{
					"table_id": table.TableID,
					"name":     table.Name,
				})
				return nil
			})
		},
	}
	af.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Table name")
	return cmd
}

func newTableListCmd() *cobra.Command {
	var af actorFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tables shared with the acting user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := af.actor()
			if err != nil {
				return err
			}
			return withDb(cmd.Context(), func(ctx context.Context) error {
				e, err := newEngine(ctx)
				if err != nil {
					return err
				}
				tables, aerr := e.ListTables(ctx, actor)
				if aerr != nil {
					return aerr
				}
				if jsonOutput {
					printJSON(tables)
					return nil
				}
				for _, t := range tables {
					cmd.Printf("%s\t%s\t%s\n", t.TableID, t.Name, t.CreatedBy)
				}
				return nil
			})
		},
	}
	af.register(cmd)
	return cmd
}

func newTableShareCmd() *cobra.Command {
	var af actorFlags
	var tableID string
	var with []string
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Set the users a table is shared with",
		Long: `Set the users a table is shared with. Users missing from --with lose
access, except the table creator and the acting user.`,
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
			return withDb(cmd.Context(), func(ctx context.Context) error {
				e, err := newEngine(ctx)
				if err != nil {
					return err
				}
				added, aerr := e.ShareTable(ctx, actor, id, parseUserIds(with))
				if aerr != nil {
					return aerr
				}
				users := make([]string, len(added))
				for i := range added {
					users[i] = string(added[i].UserID)
				}
				printOK(cmd, fmt.Sprintf("shared table %s, added %d user(s)", id, len(added)), map[string]any{
					"table_id": id,
					"added":    users,
				})
				return nil
			})
		},
	}
	af.register(cmd)
	cmd.Flags().StringVar(&tableID, "table", "", "Table id")
	cmd.Flags().StringSliceVar(&with, "with", nil, "Comma separated user ids the table is shared with")
	return cmd
}

func parseUserIds(in []string) []tablecommon.UserId {
	out := make([]tablecommon.UserId, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, tablecommon.UserId(s))
		}
	}
	return out
}
