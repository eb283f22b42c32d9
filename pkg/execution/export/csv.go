package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"fleetguard/warden/pkg/execution"
)

// CSVExporter writes one row per execution. Action results are flattened
// into a JSON column.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{IncludeHeader: includeHeader}
}

// Format implements Exporter.
func (e *CSVExporter) Format() string { return FormatCSV }

// Header lists the CSV columns in order.
func Header() []string {
	return []string{
		"id", "tenant_id", "policy_id", "policy_code", "policy_version", "parent_execution_id",
		"trigger", "entity_type", "entity_id", "vehicle_id", "driver_id", "work_order_id",
		"enforcement_mode", "matched", "status", "status_reason", "actor", "owner", "resume_count",
		"started_at", "completed_at", "duration_ms", "snapshot_hash", "action_results",
	}
}

// Export implements Exporter.
func (e *CSVExporter) Export(ctx context.Context, records []*execution.Execution, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(Header()); err != nil {
			return NewExportError(FormatCSV, 0, err)
		}
	}

	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := recordToRow(record)
		if err != nil {
			return NewExportError(FormatCSV, i, err)
		}
		if err := writer.Write(row); err != nil {
			return NewExportError(FormatCSV, i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return NewExportError(FormatCSV, len(records), err)
	}
	return nil
}

func recordToRow(record *execution.Execution) ([]string, error) {
	completedAt := ""
	if record.CompletedAt != nil {
		completedAt = record.CompletedAt.UTC().Format(time.RFC3339)
	}

	actions := ""
	if len(record.ActionResults) > 0 {
		data, err := json.Marshal(record.ActionResults)
		if err != nil {
			return nil, err
		}
		actions = string(data)
	}

	return []string{
		record.ID,
		record.TenantID,
		record.PolicyID,
		record.PolicyCode,
		strconv.Itoa(record.PolicyVersion),
		record.ParentExecutionID,
		string(record.Trigger),
		string(record.Entity.Type),
		record.Entity.ID,
		record.VehicleID,
		record.DriverID,
		record.WorkOrderID,
		string(record.Mode),
		strconv.FormatBool(record.Matched),
		string(record.Status),
		record.StatusReason,
		record.Actor,
		record.Owner,
		strconv.Itoa(record.ResumeCount),
		record.StartedAt.UTC().Format(time.RFC3339),
		completedAt,
		strconv.FormatInt(record.Duration.Milliseconds(), 10),
		record.SnapshotHash,
		actions,
	}, nil
}
