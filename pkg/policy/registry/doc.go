// Package registry manages policy template versions.
//
// The registry owns the draft/active/archived lifecycle: drafts are
// editable, activation atomically supersedes the previously active version
// of the same code, and active versions only accept scheduling metadata
// updates. It is the only writer of template records.
package registry
