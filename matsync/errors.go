// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"errors"
	"fmt"
)

// Sentinel errors for request-level failures.
var (
	ErrMissingClientID = errors.New("client_id is required")
	ErrUnknownTable    = errors.New("unknown sync table")
)

// ConflictError is the fatal form of the staleness gate: the server already
// holds a newer or equal version of at least one pushed row and the caller
// did not request lenient handling.
type ConflictError struct {
	Table Table
	Count int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("sync_conflict: %s (%d)", e.Table, e.Count)
}

// DependencyError is the fatal form of the referential-integrity gate.
type DependencyError struct {
	Dependency string
	Count      int
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("sync_dependency_missing: %s (%d)", e.Dependency, e.Count)
}

// PolicyDeniedError is a hard authorization denial. Only chat and note
// ownership violations produce it; generic entity edits are diverted into
// change requests instead.
type PolicyDeniedError struct {
	Reason string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("sync_policy_denied: %s", e.Reason)
}

// IsFatalSyncError reports whether err is one of the typed batch-aborting
// failures (as opposed to an opaque storage error).
func IsFatalSyncError(err error) bool {
	var ce *ConflictError
	var de *DependencyError
	var pe *PolicyDeniedError
	return errors.As(err, &ce) || errors.As(err, &de) || errors.As(err, &pe)
}
