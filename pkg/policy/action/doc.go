// Package action executes a policy's action list against the fleet
// collaborators.
//
// Actions run sequentially. Each one receives the shared Context, which
// carries entity and tenant ids, the execution id used to derive idempotency
// keys, the snapshot the policy was evaluated against, and the outputs of
// every earlier action. A create_work_order action followed by a notify
// action can therefore reference {{.work_order_id}} in its parameters.
//
// Each action call is isolated:
//
//   - it has its own timeout, independent of the overall execution deadline
//   - transient failures (network, timeout, 5xx, 429) are retried with
//     exponential backoff up to Config.MaxAttempts
//   - a failed required action aborts the rest of the list, which is reported
//     as not_attempted
//   - a failed optional action is recorded with its attempt count and the
//     list continues
//
// Cancellation is cooperative and checked before each action. A required
// action that has already been dispatched runs to completion (bounded by its
// own timeout) even if the execution is cancelled.
//
// The executor performs no storage writes of its own. All side effects go
// through fleet.Notifier, fleet.WorkOrderService and fleet.StatusUpdater.
package action
