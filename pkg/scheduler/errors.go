package scheduler

import "errors"

var (
	// ErrTargetBusy is returned by single-entity manual runs when the
	// (policy, entity) pair is already being processed.
	ErrTargetBusy = errors.New("policy target is busy")

	// ErrNotRunnable is returned when running a policy that is not
	// active and enabled.
	ErrNotRunnable = errors.New("policy is not runnable")
)

var (
	// ErrAlreadyDecided is returned when approving or rejecting an
	// execution that already has a follow-up record.
	ErrAlreadyDecided = errors.New("execution already approved or rejected")

	// ErrSnapshotMismatch is returned when a stored snapshot no longer
	// matches its recorded hash.
	ErrSnapshotMismatch = errors.New("stored snapshot does not match its hash")
)
