// Package export writes execution records as CSV, a JSON array or JSON lines.
//
// Exporters work on an in-memory slice (Export) or page through a
// execution.Storage query (ExportQuery), which is what the CLI uses:
//
//	exp, err := export.New("csv")
//	if err != nil {
//	    return err
//	}
//	n, err := export.ExportQuery(ctx, store, &execution.Query{PolicyCode: "HOS-11"}, exp, os.Stdout)
//
// The retention pruner archives records with the JSON lines exporter so
// each batch can be appended to the same file.
package export
