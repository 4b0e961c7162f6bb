package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/audit"
	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/internal/similarity"
)

// BackfillResult counts a backfill run
type BackfillResult struct {
	Scanned int `json:"scanned"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// Backfill re-indexes every escalated audit record into the similarity index
// using the stored symptoms and ML probability. Records are paged by id, so
// cases appended during a run are picked up once and none are skipped.
// Individual upsert failures are counted, not returned.
func (r *Recorder) Backfill(ctx context.Context, pageSize int) (*BackfillResult, error) {
	if r.index == nil {
		return nil, fmt.Errorf("backfill requires a similarity index: %w", domain.ErrIndexUnavailable)
	}
	pageSize = audit.NormalizeLimit(pageSize)

	result := &BackfillResult{}
	filter := domain.AuditFilter{EscalatedOnly: true}

	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		records, err := r.store.Scan(ctx, filter, lastID, pageSize)
		if err != nil {
			return result, fmt.Errorf("failed to read audit page after id %d: %w", lastID, err)
		}

		for _, record := range records {
			lastID = record.ID
			result.Scanned++
			err := r.index.Upsert(ctx, similarity.Entry{
				ReportID:      record.ReportID,
				DrugName:      record.DrugName,
				AdverseEvent:  record.AdverseEvent,
				Symptoms:      record.ExtractedSymptoms,
				RiskLevel:     record.RiskLevel,
				Decision:      record.EscalationDecision,
				MLProbability: record.MLProbability,
				Timestamp:     record.Timestamp,
			})
			if err != nil {
				result.Failed++
				r.logger.WithError(err).WithField("report_id", record.ReportID).Warn("Backfill failed for record")
				continue
			}
			result.Indexed++
		}

		if len(records) < pageSize {
			break
		}
	}

	r.logger.WithFields(logrus.Fields{
		"scanned": result.Scanned,
		"indexed": result.Indexed,
		"failed":  result.Failed,
	}).Info("Backfill completed")

	return result, nil
}
