package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchWorkers bounds concurrent reports in a batch
const DefaultBatchWorkers = 4

// MaxBatchSize is the largest batch accepted
const MaxBatchSize = 100

// BatchItem is the outcome for one report of a batch, in request order
type BatchItem struct {
	Index  int            `json:"index"`
	Result *ProcessResult `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// BatchResult aggregates a batch run
type BatchResult struct {
	Items            []BatchItem `json:"results"`
	TotalProcessed   int         `json:"total_processed"`
	TotalEscalated   int         `json:"total_escalated"`
	TotalFailed      int         `json:"total_failed"`
	ProcessingTimeMs float64     `json:"processing_time_ms"`
}

// ProcessBatch runs reports with at most workers in flight. One failed report
// does not stop the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []ProcessRequest, workers int) *BatchResult {
	start := time.Now()
	if workers <= 0 {
		workers = DefaultBatchWorkers
	}

	items := make([]BatchItem, len(reqs))
	var g errgroup.Group
	g.SetLimit(workers)

	for i, req := range reqs {
		g.Go(func() error {
			// unrecorded cases still carry their decision
			result, err := p.Process(ctx, req)
			item := BatchItem{Index: i, Result: result}
			if err != nil {
				item.Error = err.Error()
			}
			items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	batch := &BatchResult{Items: items}
	for _, item := range items {
		if item.Error != "" {
			batch.TotalFailed++
			continue
		}
		batch.TotalProcessed++
		if item.Result.Escalation.ShouldEscalate {
			batch.TotalEscalated++
		}
	}
	batch.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000

	p.logger.WithField("total", len(reqs)).
		WithField("escalated", batch.TotalEscalated).
		WithField("failed", batch.TotalFailed).
		Info("Batch processed")

	return batch
}
