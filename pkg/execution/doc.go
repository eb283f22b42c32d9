// Package execution defines the execution ledger.
//
// An Execution is the durable record of one policy evaluated against one
// entity: the trigger, the snapshot that was evaluated, the condition trace,
// the per-action results and a final status. Records are written pending
// before any action runs and finalized exactly once; after that they are
// immutable.
//
// Status transitions:
//
//	pending --> completed
//	        --> failed
//	        --> skipped_conditions_not_met
//	        --> skipped
//	        --> awaiting_approval
//
// Approval and rejection never modify an awaiting_approval record. They
// create a new record whose ParentExecutionID points at it.
package execution
