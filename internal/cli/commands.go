// Package cli implements floorbookadm, the operator tool that prepares a
// floorbook database: it applies the schema, bootstraps tenants and loads
// CSV files into tables.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/floorbook/floorbook/internal/common/logtrace"
	"github.com/floorbook/floorbook/internal/tablesrv/config"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	envFile    string
)

var ErrAlreadyHandled = errors.New("already handled")

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

// rootCmd represents the base command when called without any subcommands
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "floorbookadm [command] [flags]",
		Short: "floorbookadm - administer a floorbook database",
		Long: `floorbookadm prepares and maintains the database behind floorbook tables.

Examples:
  # Create or update the relational schema
  floorbookadm schema apply

  # Bootstrap a tenant
  floorbookadm tenant create --name "Acme Plant 3"

  # Create a table and load a CSV file into a new tab
  floorbookadm table create --tenant TACME01 --user UALICE1 --name Warehouse
  floorbookadm import --tenant TACME01 --user UALICE1 --table <table-id> --tab Intake -f intake.csv`,
		PersistentPreRunE: preRunHandlePersistents,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to the floorbook.conf file (default $"+config.EnvConfigFile+" or ./"+config.DefaultConfigFile+")")
	root.PersistentFlags().StringVarP(&envFile, "env", "", ".env", "Environment file loaded before the configuration")
	root.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newTenantCmd())
	root.AddCommand(newTableCmd())
	root.AddCommand(newImportCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		if errors.Is(err, ErrAlreadyHandled) {
			os.Exit(1)
		}
		if jsonOutput {
			kv := map[string]string{
				"error": err.Error(),
			}
			printJSON(kv)
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents loads the environment file and the configuration
// for every command except version.
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "version" {
			return nil
		}
	}
	if err := loadEnv(envFile); err != nil {
		return err
	}
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := config.LoadConfig(configFile); err != nil {
		return err
	}
	logtrace.InitLogger()
	logtrace.SetLevel(config.Config().LogLevel)
	return nil
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of floorbookadm",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				kv := map[string]string{
					"version":        getCLIVersion(),
					"config_version": config.Version,
				}
				printJSON(kv)
			} else {
				cmd.Printf("floorbookadm %s (config format %s)\n", getCLIVersion(), config.Version)
			}
		},
	}
}

// printJSON prints the given value as JSON to stdout
func printJSON(data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(jsonData))
}

// printOK prints a green status line, or kv as JSON with --json.
func printOK(cmd *cobra.Command, msg string, kv map[string]any) {
	if jsonOutput {
		printJSON(kv)
		return
	}
	okLabel.Fprintln(cmd.OutOrStdout(), msg)
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v0.1.0"
}
