// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
)

// Store is the transactional relational store the engine writes through.
// The storage engine itself is an external collaborator; the engine only
// relies on insert / upsert / select-where-in primitives plus an
// all-or-nothing transaction wrapper.
type Store interface {
	// WithTx runs fn inside one transaction. If fn returns an error the
	// transaction rolls back and the error propagates unchanged.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the per-transaction primitives the push pipeline needs. Every
// method is a single storage round-trip; these are the only suspension
// points in a batch.
type Tx interface {
	// EntityTypesByCode returns live entity types whose business code is in
	// codes. Used by the identity remapper.
	EntityTypesByCode(ctx context.Context, codes []string) ([]*EntityType, error)

	// AttributeDefsByKey returns live attribute defs matching any of the
	// (entity_type_id, code) keys. Used by the identity remapper.
	AttributeDefsByKey(ctx context.Context, keys []AttributeDefKey) ([]*AttributeDef, error)

	// RowStates returns the conflict-detection state of the given rows.
	// Missing ids are simply absent from the result.
	RowStates(ctx context.Context, table Table, ids []string) (map[string]*RowState, error)

	// Rows returns full stored rows by id, for before-snapshots and
	// touch-only detection. Missing ids are absent from the result.
	Rows(ctx context.Context, table Table, ids []string) (map[string]Row, error)

	// ExistingIDs reports which of the given ids exist as live (not
	// tombstoned) rows. Used by the dependency validator.
	ExistingIDs(ctx context.Context, table Table, ids []string) (map[string]struct{}, error)

	// Owners returns the recorded owner of each row that has one.
	Owners(ctx context.Context, table Table, ids []string) (map[string]*RowOwner, error)

	// NoteShareExists reports whether any share row already grants
	// recipientUserID access to noteID.
	NoteShareExists(ctx context.Context, noteID, recipientUserID string) (bool, error)

	// UpsertRows bulk-writes the surviving row set of one table, using the
	// remapped identifiers as conflict targets.
	UpsertRows(ctx context.Context, table Table, rows []Row) error

	// AllocateSeq reserves n consecutive server sequence numbers and
	// returns the first. The counter is monotonic across all writers.
	AllocateSeq(ctx context.Context, n int) (int64, error)

	// AppendChangeLog appends entries to the durable change log.
	AppendChangeLog(ctx context.Context, entries []*ChangeLogEntry) error

	// InsertOwnerIfAbsent records a row's owner. Once set, the owner is
	// immutable: repeated calls for the same (table, row) are no-ops.
	InsertOwnerIfAbsent(ctx context.Context, owner *RowOwner) error

	// InsertChangeRequest stores a pending change request.
	InsertChangeRequest(ctx context.Context, cr *ChangeRequest) error

	// UpsertSyncState updates the pushing client's watermark row.
	UpsertSyncState(ctx context.Context, st *SyncState) error

	// UpsertPresence writes the acting user's heartbeat row.
	UpsertPresence(ctx context.Context, p *UserPresence) error

	// EnsureContainer idempotently provisions a singleton container
	// entity-type/entity pair. Insert-if-absent on both rows.
	EnsureContainer(ctx context.Context, et *EntityType, e *Entity) error

	// SaveDiagnostics persists the batch's skipped-row snapshot.
	SaveDiagnostics(ctx context.Context, snap *DiagnosticsSnapshot) error

	// ActiveUserIDs lists users with a live presence row; used to fan out
	// unaddressed notifications.
	ActiveUserIDs(ctx context.Context) ([]string, error)
}
