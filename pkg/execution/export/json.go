package export

import (
	"context"
	"encoding/json"
	"io"

	"fleetguard/warden/pkg/execution"
)

// JSONExporter writes records as one JSON array.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{Pretty: pretty}
}

// Format implements Exporter.
func (e *JSONExporter) Format() string { return FormatJSON }

// Export writes records as a JSON array. An empty slice is written as [].
func (e *JSONExporter) Export(ctx context.Context, records []*execution.Execution, w io.Writer) error {
	if records == nil {
		records = []*execution.Execution{}
	}

	var (
		data []byte
		err  error
	)
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return NewExportError(FormatJSON, 0, err)
	}

	if _, err := w.Write(data); err != nil {
		return NewExportError(FormatJSON, 0, err)
	}
	return nil
}

// JSONLExporter writes one JSON object per line. Output from several calls
// can be concatenated.
type JSONLExporter struct{}

// NewJSONLExporter creates a new JSON lines exporter.
func NewJSONLExporter() *JSONLExporter {
	return &JSONLExporter{}
}

// Format implements Exporter.
func (e *JSONLExporter) Format() string { return FormatJSONL }

// Export implements Exporter.
func (e *JSONLExporter) Export(ctx context.Context, records []*execution.Execution, w io.Writer) error {
	enc := json.NewEncoder(w)
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(record); err != nil {
			return NewExportError(FormatJSONL, i, err)
		}
	}
	return nil
}
