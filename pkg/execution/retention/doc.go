// Package retention removes old execution records.
//
// Retention is off by default: with Days set to zero the ledger keeps every
// record forever. When enabled, the Pruner deletes terminal records whose
// completion time is older than the window, oldest first and in batches.
// Pending and awaiting_approval records are never touched, whatever their
// age, and no record is ever modified; it is either kept or removed whole.
//
// With ArchivePath set, each batch is appended to a JSON lines file in that
// directory (one file per day) before it is deleted:
//
//	pruner := retention.NewPruner(store, &retention.Config{
//	    Days:        180,
//	    Schedule:    "0 3 * * *",
//	    BatchSize:   500,
//	    ArchivePath: "./data/archive",
//	})
//	if err := pruner.Start(ctx); err != nil {
//	    return err
//	}
//	defer pruner.Stop()
package retention
