// Package sqlstore implements the domain Storage interfaces on database/sql.
//
// Three drivers are supported:
//
//   - "sqlite": modernc.org/sqlite, pure Go, the default
//   - "sqlite3": github.com/mattn/go-sqlite3, needs cgo
//   - "postgres": github.com/lib/pq, for several engine instances sharing
//     one ledger and one lease table
//
// Queries are written once with ? placeholders and rebound to $n for
// PostgreSQL. Every table keeps the full record as a JSON document in a
// data column next to the columns used for filtering; times in filter
// columns are Unix nanoseconds.
//
// Conditional writes carry the invariants the engine relies on:
//
//   - Finalize updates only rows still in status pending
//   - violation updates compare the stored revision
//   - audits upsert on (policy_id, window_key)
//   - leases are taken over only when expired, and released by token
package sqlstore
