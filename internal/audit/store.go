// Package audit provides the append-only compliance log of every processed
// adverse event report. The audit log is the system of record; nothing in
// it is ever updated or deleted.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pv-ae-server/internal/domain"
)

// Query limits
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000

	// maxExportLimit is the maximum number of records exported at once
	maxExportLimit = 1000000

	newestFirst = "timestamp DESC, id DESC"
	byID        = "id ASC"
)

// Store defines the interface for audit log storage operations.
type Store interface {
	// Append writes a new record. Any backend failure is returned wrapped
	// in domain.ErrAuditWrite.
	Append(ctx context.Context, record *domain.AuditRecord) error

	// Query returns records matching filter, newest first.
	Query(ctx context.Context, filter domain.AuditFilter, limit, offset int) ([]*domain.AuditRecord, error)

	// Scan returns records matching filter whose id is greater than afterID,
	// in ascending id order. Pages stay stable while appends continue.
	Scan(ctx context.Context, filter domain.AuditFilter, afterID int64, limit int) ([]*domain.AuditRecord, error)

	// GetByID returns the record for reportID, or nil if absent.
	GetByID(ctx context.Context, reportID string) (*domain.AuditRecord, error)

	// Summary aggregates the whole log.
	Summary(ctx context.Context) (*domain.AuditSummary, error)

	// Stats reports connectivity and headline counts for health checks.
	Stats(ctx context.Context) domain.AuditStats

	// ExportJSON writes every record matching filter as a versioned envelope.
	ExportJSON(ctx context.Context, filter domain.AuditFilter, writer io.Writer) error

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version    string                `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	Count      int                   `json:"count"`
	Records    []*domain.AuditRecord `json:"records"`
}

// NormalizeLimit clamps a page size to [1, MaxQueryLimit]
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

func writeExport(records []*domain.AuditRecord, writer io.Writer) error {
	if records == nil {
		records = []*domain.AuditRecord{}
	}
	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Records:    records,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

func writeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrAuditWrite, op, err)
}
