package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pv-ae-server/internal/setup"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Register the lite MCP server with a desktop MCP client",
}

var setupClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Add or update the server entry in the client configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env := map[string]string{}
		for _, kv := range setupEnv {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --env %q, expected KEY=VALUE", kv)
			}
			env[k] = v
		}

		entry, err := setup.Register(setup.Options{
			ConfigPath: setupConfigPath,
			BinaryPath: setupBinary,
			DataDir:    setupDataDir,
			Env:        env,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), entry)
	},
}

var setupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is registered and runnable",
	RunE: func(cmd *cobra.Command, _ []string) error {
		status, err := setup.GetStatus(setupConfigPath)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), status)
	},
}

var (
	setupConfigPath string
	setupBinary     string
	setupDataDir    string
	setupEnv        []string
)

func init() {
	rootCmd.AddCommand(setupCmd)
	setupCmd.AddCommand(setupClientCmd, setupStatusCmd)

	setupCmd.PersistentFlags().StringVar(&setupConfigPath, "client-config", "", "client config file (default: the desktop client's location)")
	setupClientCmd.Flags().StringVar(&setupBinary, "binary", "", "path to mcp-server-lite (default: search PATH)")
	setupClientCmd.Flags().StringVar(&setupDataDir, "data-dir", "", "data directory passed as PV_DATA_DIR")
	setupClientCmd.Flags().StringArrayVar(&setupEnv, "env", nil, "extra KEY=VALUE environment (repeatable)")
}
