package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pv-ae-server/internal/app"
	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect, export and archive the audit log",
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print aggregate counts over the audit log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, _ *logrus.Logger) error {
			summary, err := c.Recorder.GetAuditSummary(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		})
	},
}

var auditGetCmd = &cobra.Command{
	Use:   "get <report-id>",
	Short: "Print the audit record of one report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, _ *logrus.Logger) error {
			record, err := c.Recorder.GetAuditByReportID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), record)
		})
	},
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the audit log as a versioned JSON export",
	RunE:  runAuditExport,
}

var auditArchiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Upload a JSON export of the audit log to the configured S3 bucket",
	RunE:  runAuditArchive,
}

var (
	exportOutput    string
	filterRiskLevel string
	filterEscalated bool
	filterStartDate string
	filterEndDate   string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditSummaryCmd, auditGetCmd, auditExportCmd, auditArchiveCmd)

	auditExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default: stdout)")
	for _, c := range []*cobra.Command{auditExportCmd, auditArchiveCmd} {
		c.Flags().StringVar(&filterRiskLevel, "risk-level", "", "only records at this risk level")
		c.Flags().BoolVar(&filterEscalated, "escalated-only", false, "only escalated records")
		c.Flags().StringVar(&filterStartDate, "start-date", "", "RFC 3339 or YYYY-MM-DD lower bound")
		c.Flags().StringVar(&filterEndDate, "end-date", "", "RFC 3339 or YYYY-MM-DD upper bound")
	}
}

func parseFilterFlags() (domain.AuditFilter, error) {
	escalated := ""
	if filterEscalated {
		escalated = "true"
	}
	return audit.ParseFilter(filterRiskLevel, escalated, filterStartDate, filterEndDate)
}

func runAuditExport(cmd *cobra.Command, _ []string) error {
	filter, err := parseFilterFlags()
	if err != nil {
		return err
	}

	return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, logger *logrus.Logger) error {
		var w io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create export file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := c.Store.ExportJSON(cmd.Context(), filter, w); err != nil {
			return err
		}
		if exportOutput != "" {
			logger.WithField("path", exportOutput).Info("Audit export written")
		}
		return nil
	})
}

func runAuditArchive(cmd *cobra.Command, _ []string) error {
	filter, err := parseFilterFlags()
	if err != nil {
		return err
	}

	return withComponents(cmd.Context(), func(_ *domain.Config, c *app.Components, _ *logrus.Logger) error {
		if c.Archiver == nil {
			return errors.New("archive is not configured: set archive.s3_bucket")
		}
		result, err := c.Archiver.ArchiveAudit(cmd.Context(), c.Store, filter)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	})
}
