package cmd

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pv-ae-server/internal/app"
	"github.com/pv-ae-server/internal/domain"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Maintain the similar-case index",
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the index backend, model and size",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, _ *logrus.Logger) error {
			stats, ok := c.Recorder.IndexStats(cmd.Context())
			if !ok {
				return domain.ErrIndexUnavailable
			}
			return printJSON(cmd.OutOrStdout(), stats)
		})
	},
}

var indexBackfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-index every escalated audit record",
	Long: `backfill pages through the escalated audit records and upserts each into
the similarity index. Use it after switching embedders or backends, or to
repair entries whose indexing failed at processing time.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, logger *logrus.Logger) error {
			result, err := c.Recorder.Backfill(cmd.Context(), backfillPageSize)
			if result != nil {
				if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
					return errors.Join(err, perr)
				}
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				logger.WithField("failed", result.Failed).Warn("Some records could not be indexed")
			}
			return nil
		})
	},
}

var backfillPageSize int

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexStatsCmd, indexBackfillCmd)

	indexBackfillCmd.Flags().IntVar(&backfillPageSize, "page-size", 500, "audit records read per page")
}
