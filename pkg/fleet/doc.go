// Package fleet defines the contracts between the policy automation engine
// and the fleet systems around it.
//
// The engine never reads or mutates vehicle, driver or work-order records
// directly. It reads point-in-time attribute bags through a SnapshotProvider
// and produces side effects exclusively through the Notifier,
// WorkOrderService and StatusUpdater interfaces. Two implementations ship
// with the module:
//
//   - fleet/static: an in-memory directory loaded from a YAML fixture, used in
//     tests and local demos
//   - fleet/httpapi: a REST client for the fleet management API
//
// Every side-effecting request carries an idempotency key so that a resumed
// execution never produces a duplicate work order or notification.
package fleet
