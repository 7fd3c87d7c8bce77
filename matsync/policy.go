// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

// SyncPolicy controls how a single push batch treats rows that fail the
// conflict or dependency gates. It is threaded explicitly through every
// ProcessPush call instead of being read from ambient process state, so
// behavior stays reproducible in tests.
type SyncPolicy struct {
	// StrictDependencies makes any missing-parent row a fatal batch error.
	// Used to catch client bugs early. Directed-message recipient checks
	// are strict regardless of this flag.
	StrictDependencies bool

	// AllowConflicts drops stale rows instead of failing the batch. This is
	// the recovery/replay mode: when re-applying canonical history, losing
	// stale rows is expected and must not block the rest of the batch.
	AllowConflicts bool

	// CollectChanges populates PushResponse.Changes with the effective write
	// set, so the caller can relay it to other connected clients.
	CollectChanges bool
}

// DefaultPolicy is the normal client-push configuration: lenient
// dependencies, conflicts fatal, no change collection.
func DefaultPolicy() SyncPolicy {
	return SyncPolicy{}
}

// RecoveryPolicy is the server-side replay configuration: stale and
// dependency-missing rows are dropped and counted.
func RecoveryPolicy() SyncPolicy {
	return SyncPolicy{AllowConflicts: true}
}

// AuthorizationPolicy selects how writes to rows the actor does not own are
// handled. The two modes replace what used to be two parallel engine
// variants.
type AuthorizationPolicy int

const (
	// AuthStrictOwnership diverts non-owner edits into pending change
	// requests for human review.
	AuthStrictOwnership AuthorizationPolicy = iota

	// AuthTrustedWriter applies every authorized-table write directly
	// (latest writer wins); chat/note hard rules still apply.
	AuthTrustedWriter
)

func (p AuthorizationPolicy) String() string {
	switch p {
	case AuthStrictOwnership:
		return "strict_ownership"
	case AuthTrustedWriter:
		return "trusted_writer"
	default:
		return "unknown"
	}
}

// ParseAuthorizationPolicy maps a configuration string to a policy value.
// Unknown values fall back to strict ownership, the safer default.
func ParseAuthorizationPolicy(s string) AuthorizationPolicy {
	if s == "trusted_writer" || s == "trusted" {
		return AuthTrustedWriter
	}
	return AuthStrictOwnership
}
