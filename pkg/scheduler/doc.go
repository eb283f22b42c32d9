// Package scheduler decides which policies run and fans their evaluations
// out to a bounded worker pool.
//
// Three triggers produce work:
//
//   - schedule: RunDue picks active, enabled policies whose next execution
//     time has passed and evaluates each against every entity in scope
//   - event: HandleEvent runs the policies that name an observed event
//   - manual: RunNow runs one policy on demand
//
// Each (policy, entity) evaluation acquires a short lease first. When the
// lease is held elsewhere, or a pending execution already exists for the
// pair, the evaluation is skipped rather than queued. An execution record
// is written pending before actions are dispatched and is always finalized;
// Recover resumes or fails records left pending by a crashed process.
//
// Entity snapshots are read once per pass and shared by every policy in
// that pass.
package scheduler
