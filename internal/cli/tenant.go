package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/floorbook/floorbook/internal/common"
	"github.com/floorbook/floorbook/internal/tablesrv/db"
	"github.com/floorbook/floorbook/internal/tablesrv/db/models"
	"github.com/floorbook/floorbook/internal/tablesrv/tablecommon"
)

func newTenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Bootstrap and inspect tenants",
	}
	cmd.AddCommand(newTenantCreateCmd(), newTenantGetCmd(), newTenantDeleteCmd())
	return cmd
}

func newTenantCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant, generating its id unless --id is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := tenantIDOrNew(id)
			if err != nil {
				return err
			}
			return withDb(cmd.Context(), func(ctx context.Context) error {
				conn, err := db.Conn(ctx, "")
				if err != nil {
					return err
				}
				defer conn.Close(ctx)
				tenant := &models.Tenant{TenantID: tenantID, Name: name}
				if err := conn.CreateTenant(ctx, tenant); err != nil {
					return err
				}
				printOK(cmd, "created tenant "+string(tenant.TenantID), map[string]any{
					"tenant_id":  tenant.TenantID,
					"name":       tenant.Name,
					"created_at": tenant.CreatedAt,
				})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Tenant id, e.g. TACME01 (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "Display name of the tenant")
	return cmd
}

func newTenantGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tenant-id>",
		Short: "Show a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDb(cmd.Context(), func(ctx context.Context) error {
				conn, err := db.Conn(ctx, "")
				if err != nil {
					return err
				}
				defer conn.Close(ctx)
				tenant, err := conn.GetTenant(ctx, tablecommon.TenantId(args[0]))
				if err != nil {
					return err
				}
				if jsonOutput {
					printJSON(map[string]any{
						"tenant_id":  tenant.TenantID,
						"name":       tenant.Name,
						"created_at": tenant.CreatedAt,
					})
					return nil
				}
				cmd.Printf("%s\t%s\t%s\n", tenant.TenantID, tenant.Name, tenant.CreatedAt.Format("2006-01-02 15:04:05"))
				return nil
			})
		},
	}
}

func newTenantDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <tenant-id>",
		Short: "Delete a tenant and every table it owns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("deleting tenant %s removes all of its data; pass --yes to confirm", args[0])
			}
			return withDb(cmd.Context(), func(ctx context.Context) error {
				conn, err := db.Conn(ctx, "")
				if err != nil {
					return err
				}
				defer conn.Close(ctx)
				if err := conn.DeleteTenant(ctx, tablecommon.TenantId(args[0])); err != nil {
					return err
				}
				printOK(cmd, "deleted tenant "+args[0], map[string]any{"tenant_id": args[0], "status": "deleted"})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the deletion")
	return cmd
}

// tenantIDOrNew validates id, or generates a tenant id when it is empty.
func tenantIDOrNew(id string) (tablecommon.TenantId, error) {
	if id == "" {
		return tablecommon.NewTenantId()
	}
	if !common.IsValidId(common.ID_TYPE_TENANT, id) {
		return "", fmt.Errorf("invalid tenant id %q: expected T followed by a letter and five letters or digits", id)
	}
	return tablecommon.TenantId(id), nil
}
