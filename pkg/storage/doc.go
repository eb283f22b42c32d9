// Package storage holds the error types shared by the storage backends.
//
// Backends live in subpackages:
//
//   - memory: process-local maps, used by tests and single-node demos
//   - sqlstore: database/sql over SQLite (modernc or mattn) or PostgreSQL
//
// Each backend implements the Storage interfaces declared by the domain
// packages (policy, execution, violation, compliance, lease).
package storage
