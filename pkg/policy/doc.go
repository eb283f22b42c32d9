// Package policy defines versioned policy templates.
//
// A Template names a population of fleet entities (its Scope), a condition
// tree evaluated against each entity's snapshot, an ordered action list, an
// enforcement mode and a schedule. Templates are identified by a code that
// is unique per tenant; each code has a monotonically increasing version
// and at most one version is active at a time.
//
// Lifecycle:
//
//	draft --activate--> active --supersede/retire--> archived
//
// An active template is structurally immutable. Only its scheduling
// metadata (last/next execution, execution_enabled) and status may change;
// anything else requires a new version.
//
// Subpackages:
//
//   - condition: the condition tree and its evaluator
//   - action: the action list and its executor
//   - registry: versioning, activation and supersession
//   - source: YAML policy files and directory watching
//   - git: policy files from a Git repository
package policy
