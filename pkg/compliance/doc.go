// Package compliance scores how much of a policy's population currently
// satisfies its conditions.
//
// An audit evaluates the policy's condition tree against a fresh snapshot
// of every entity in scope, without dispatching actions. Entities that
// match are compliant; the rest become findings. One audit is stored per
// (policy, window): re-running an audit for the same window overwrites the
// earlier result.
package compliance
