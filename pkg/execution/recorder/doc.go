// Package recorder writes execution records.
//
// The recorder is the only writer of the execution ledger. It persists a
// pending record before any action is dispatched, so a crash always leaves
// a trace, and finalizes it exactly once. Finalized records are published
// to listeners (violation detection, compliance touch tracking) through a
// buffered channel drained by a background worker, so a slow listener
// never delays an execution.
//
// Basic usage:
//
//	rec := recorder.NewRecorder(store, recorder.DefaultConfig())
//	defer rec.Close()
//
//	e := &execution.Execution{PolicyID: p.ID, Entity: ref, Trigger: execution.TriggerSchedule}
//	if err := rec.Begin(ctx, e); err != nil {
//	    return err
//	}
//	// ... evaluate and dispatch ...
//	e.Status = execution.StatusCompleted
//	if err := rec.Finalize(ctx, e); err != nil {
//	    return err
//	}
package recorder
