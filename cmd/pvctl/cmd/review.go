package cmd

import (
	"errors"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pv-ae-server/internal/app"
	"github.com/pv-ae-server/internal/domain"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Record and move safety officer reviews of escalation decisions",
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <report-id> <ESCALATE|NO_ESCALATE>",
	Short: "Confirm or override the decision recorded for a report",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, _ *logrus.Logger) error {
			r, err := c.Reviews.Submit(cmd.Context(), args[0], args[1], reviewer, reviewNotes)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		})
	},
}

var reviewStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print reviewer agreement with the escalation engine",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, _ *logrus.Logger) error {
			stats, err := c.Reviews.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var reviewExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every review as a versioned JSON export",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, _ *logrus.Logger) error {
			var out io.Writer = cmd.OutOrStdout()
			if reviewOutput != "" {
				f, err := os.Create(reviewOutput)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return c.Reviews.Store().ExportJSON(cmd.Context(), out)
		})
	},
}

var reviewImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load reviews from an export, keeping reviews already present",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, logger *logrus.Logger) error {
			imported, skipped, err := c.Reviews.Store().ImportJSON(cmd.Context(), f)
			if perr := printJSON(cmd.OutOrStdout(), map[string]int{"imported": imported, "skipped": skipped}); perr != nil {
				return errors.Join(err, perr)
			}
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{"imported": imported, "skipped": skipped}).Info("Reviews imported")
			return nil
		})
	},
}

var (
	reviewer     string
	reviewNotes  string
	reviewOutput string
)

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewSubmitCmd, reviewStatsCmd, reviewExportCmd, reviewImportCmd)

	reviewSubmitCmd.Flags().StringVar(&reviewer, "reviewer", "", "safety officer identifier")
	reviewSubmitCmd.Flags().StringVar(&reviewNotes, "notes", "", "rationale for the decision")
	_ = reviewSubmitCmd.MarkFlagRequired("reviewer")
	reviewExportCmd.Flags().StringVarP(&reviewOutput, "output", "o", "", "output file (default: stdout)")
}
