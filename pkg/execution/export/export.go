package export

import (
	"context"
	"fmt"
	"io"

	"fleetguard/warden/pkg/execution"
)

// Format names accepted by New.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

// DefaultPageSize is the page size ExportQuery uses when the query has no
// limit of its own.
const DefaultPageSize = 500

// Exporter writes execution records to w.
type Exporter interface {
	Export(ctx context.Context, records []*execution.Execution, w io.Writer) error
	Format() string
}

// ExportError represents an error during export.
type ExportError struct {
	Format      string // Export format ("json", "csv", "jsonl")
	RecordCount int    // Number of records written before the failure
	Cause       error
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [format=%s, record_count=%d]: %v", e.Format, e.RecordCount, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *ExportError) Unwrap() error {
	return e.Cause
}

// NewExportError creates a new ExportError.
func NewExportError(format string, recordCount int, cause error) *ExportError {
	return &ExportError{Format: format, RecordCount: recordCount, Cause: cause}
}

// New returns the exporter for format. JSON output is compact.
func New(format string) (Exporter, error) {
	switch format {
	case FormatCSV:
		return NewCSVExporter(true), nil
	case FormatJSON:
		return NewJSONExporter(false), nil
	case FormatJSONL:
		return NewJSONLExporter(), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// ExportQuery pages through storage and writes every record matching q.
// A query limit caps the total number of records; otherwise every match is
// exported. It returns the number of records written.
func ExportQuery(ctx context.Context, storage execution.Storage, q *execution.Query, exp Exporter, w io.Writer) (int, error) {
	return ExportQueryProgress(ctx, storage, q, exp, w, nil)
}

// ExportQueryProgress is ExportQuery that calls fetched with the running
// record count after every page read from storage.
func ExportQueryProgress(ctx context.Context, storage execution.Storage, q *execution.Query, exp Exporter, w io.Writer, fetched func(n int)) (int, error) {
	if q == nil {
		q = &execution.Query{}
	}
	if err := execution.ValidateQuery(q); err != nil {
		return 0, err
	}

	remaining := q.Limit
	page := *q
	page.Limit = DefaultPageSize
	if remaining > 0 && remaining < page.Limit {
		page.Limit = remaining
	}

	var records []*execution.Execution
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		batch, err := storage.Query(ctx, &page)
		if err != nil {
			return 0, fmt.Errorf("failed to query executions: %w", err)
		}
		records = append(records, batch...)
		if fetched != nil {
			n := len(records)
			if remaining > 0 && n > remaining {
				n = remaining
			}
			fetched(n)
		}

		if len(batch) < page.Limit {
			break
		}
		if remaining > 0 && len(records) >= remaining {
			records = records[:remaining]
			break
		}
		page.Offset += len(batch)
	}

	if err := exp.Export(ctx, records, w); err != nil {
		return 0, err
	}
	return len(records), nil
}
