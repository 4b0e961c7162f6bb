package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pv-ae-server/internal/app"
	"github.com/pv-ae-server/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|version]",
	Short:     "Apply or roll back the PostgreSQL schema",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"up", "down", "version"},
	RunE:      runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	action := "up"
	if len(args) == 1 {
		action = args[0]
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrations apply to the postgres driver only, configured driver is %q", cfg.Database.Driver)
	}
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}

	runner, err := database.NewMigrationRunner(database.ConfigFromDomain(cfg.Database).URL(), logger)
	if err != nil {
		return err
	}
	defer runner.Close()

	switch action {
	case "down":
		err = runner.Down(cmd.Context())
	case "version":
		version, dirty, verr := runner.Version()
		if verr != nil {
			return verr
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
		return nil
	default:
		err = runner.Up(cmd.Context())
	}
	return err
}
