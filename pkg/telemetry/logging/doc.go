// Package logging configures the process-wide slog logger.
//
// Components log through slog.Default().With("component", ...); Setup
// installs a handler behind that default which
//
//   - writes JSON, text or console output at the configured level
//   - adds correlation fields carried on the context (request_id,
//     execution_id, policy_code, tenant_id, entity) to *Context calls
//   - redacts driver contact details and credentials when RedactPII is set
//
// Usage:
//
//	logger, err := logging.Setup(&cfg.Telemetry.Logging, os.Stderr)
//	if err != nil {
//	    return err
//	}
//
//	ctx = logging.WithExecution(ctx, exec.ID, tpl.Code)
//	slog.InfoContext(ctx, "actions dispatched") // carries execution_id and policy_code
//
// The level can be changed at runtime with SetLevel, which is how a
// configuration reload applies a new telemetry.logging.level.
package logging
