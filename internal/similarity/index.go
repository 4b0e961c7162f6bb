package similarity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/pv-ae-server/internal/domain"
	"github.com/pv-ae-server/pkg/external"
)

// Index defaults
const (
	DefaultTopK          = 5
	DefaultQueryTimeout  = 3 * time.Second
	DefaultUpsertTimeout = 5 * time.Second
)

// Options tune an Index
type Options struct {
	QueryTimeout  time.Duration
	UpsertTimeout time.Duration
	TopK          int
}

// Index couples an embedder with a storage backend. Upserts report failure
// to the caller; queries never fail and degrade to an empty result.
// Writes and queries trip separate breakers so failing queries never
// reject index writes.
type Index struct {
	backend       Backend
	embedder      Embedder
	upsertBreaker *gobreaker.CircuitBreaker
	queryBreaker  *gobreaker.CircuitBreaker
	opts          Options
	logger        *logrus.Logger
}

// NewIndex creates an index. The embedder must already be initialized.
func NewIndex(backend Backend, embedder Embedder, opts Options, logger *logrus.Logger) *Index {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.UpsertTimeout <= 0 {
		opts.UpsertTimeout = DefaultUpsertTimeout
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Index{
		backend:       backend,
		embedder:      embedder,
		upsertBreaker: external.NewCircuitBreaker("SimilarityIndexWrite", external.DefaultCircuitBreakerConfig(), logger),
		queryBreaker:  external.NewCircuitBreaker("SimilarityIndexQuery", external.DefaultCircuitBreakerConfig(), logger),
		opts:          opts,
		logger:        logger,
	}
}

// Upsert embeds and stores entry, replacing any entry with the same report id.
// Errors wrap domain.ErrIndexUnavailable.
func (i *Index) Upsert(ctx context.Context, entry Entry) error {
	if entry.ReportID == "" {
		return fmt.Errorf("%w: report id is required", domain.ErrIndexUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.UpsertTimeout)
	defer cancel()

	text := entry.Text()
	_, err := i.upsertBreaker.Execute(func() (interface{}, error) {
		vec, err := i.embedder.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed: %w", err)
		}
		return nil, i.backend.Upsert(ctx, Record{
			Entry:         entry,
			CanonicalText: text,
			Model:         i.embedder.Model(),
			Embedding:     vec,
		})
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	i.logger.WithFields(logrus.Fields{
		"report_id": entry.ReportID,
		"drug":      entry.DrugName,
	}).Debug("Indexed event")
	return nil
}

// Query returns at most TopK matches, most similar first. The excluded report
// id never appears. Failures and timeouts are logged and yield no matches.
func (i *Index) Query(ctx context.Context, q Query) []domain.SimilarEventMatch {
	topK := q.TopK
	if topK <= 0 {
		topK = i.opts.TopK
	}

	ctx, cancel := context.WithTimeout(ctx, i.opts.QueryTimeout)
	defer cancel()

	model := i.embedder.Model()
	result, err := i.queryBreaker.Execute(func() (interface{}, error) {
		vec, err := i.embedder.Embed(ctx, q.Text())
		if err != nil {
			return nil, fmt.Errorf("failed to embed query: %w", err)
		}
		return i.backend.Search(ctx, vec, SearchFilter{
			EscalatedOnly:   q.EscalatedOnly,
			ExcludeReportID: q.ExcludeReportID,
			Model:           model,
		}, topK)
	})
	if err != nil {
		entry := i.logger.WithError(err).WithField("drug", q.Drug)
		if errors.Is(err, context.DeadlineExceeded) {
			entry.Warn("Similarity query timed out")
		} else {
			entry.Warn("Similarity query failed")
		}
		return []domain.SimilarEventMatch{}
	}

	matches := make([]domain.SimilarEventMatch, 0, topK)
	for _, c := range result.([]Candidate) {
		if c.ReportID == q.ExcludeReportID || c.Model != model {
			continue
		}
		if q.EscalatedOnly && c.Decision != domain.DecisionEscalate {
			continue
		}
		matches = append(matches, c.toMatch(q.Symptoms))
		if len(matches) >= topK {
			break
		}
	}
	return matches
}

// Stats describes the index; the count is 0 when the backend is unreachable
func (i *Index) Stats(ctx context.Context) domain.IndexStats {
	ctx, cancel := context.WithTimeout(ctx, i.opts.QueryTimeout)
	defer cancel()

	total, err := i.backend.Count(ctx)
	if err != nil {
		i.logger.WithError(err).Warn("Failed to count indexed events")
		total = 0
	}
	return domain.IndexStats{
		TotalIndexed: total,
		Backend:      i.backend.Name(),
		Model:        i.embedder.Model(),
		Dimensions:   i.embedder.Dimensions(),
	}
}

// Close closes the backend and the embedder
func (i *Index) Close() error {
	return errors.Join(i.backend.Close(), i.embedder.Close())
}
