// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
	"fmt"
	"log/slog"
)

// The dependency validator enforces referential integrity before anything is
// written: a row referencing a missing parent never reaches the writer.
// Parents may exist server-side or arrive in the same batch (reference
// tables are processed first, so batch parents are already remapped and
// conflict-filtered by the time dependents are checked).

type depCheck struct {
	// dependency is the label used in diagnostics and fatal errors,
	// e.g. "entities.entity_type_id".
	dependency string
	// parent table looked up server-side and in-batch.
	parent Table
	// ref extracts the referenced parent id; empty string means no
	// reference to validate (optional FK not set).
	ref func(Row) string
	// alwaysStrict checks ignore SyncPolicy: a directed message to a
	// nonexistent recipient always rejects the batch.
	alwaysStrict bool
}

func dependencyChecks(table Table) []depCheck {
	switch table {
	case TableEntities:
		return []depCheck{{
			dependency: "entities.entity_type_id",
			parent:     TableEntityTypes,
			ref:        func(r Row) string { return r.(*Entity).EntityTypeID },
		}}
	case TableAttributeDefs:
		return []depCheck{{
			dependency: "attribute_defs.entity_type_id",
			parent:     TableEntityTypes,
			ref:        func(r Row) string { return r.(*AttributeDef).EntityTypeID },
		}}
	case TableAttributeValues:
		return []depCheck{
			{
				dependency: "attribute_values.entity_id",
				parent:     TableEntities,
				ref:        func(r Row) string { return r.(*AttributeValue).EntityID },
			},
			{
				dependency: "attribute_values.attribute_def_id",
				parent:     TableAttributeDefs,
				ref:        func(r Row) string { return r.(*AttributeValue).AttributeDefID },
			},
		}
	case TableOperations:
		return []depCheck{{
			dependency: "operations.engine_entity_id",
			parent:     TableEntities,
			ref: func(r Row) string {
				op := r.(*Operation)
				// The supply container is provisioned by the writer in the
				// same transaction, so it always counts as present.
				if op.EngineEntityID == SupplyContainerEntityID {
					return ""
				}
				return op.EngineEntityID
			},
		}}
	case TableChatMessages:
		return []depCheck{{
			dependency:   "chat_messages.recipient_id",
			parent:       TableUserPresence,
			alwaysStrict: true,
			ref: func(r Row) string {
				if rid := r.(*ChatMessage).RecipientID; rid != nil {
					return *rid
				}
				return ""
			},
		}}
	case TableChatReads:
		return []depCheck{{
			dependency: "chat_reads.message_id",
			parent:     TableChatMessages,
			ref:        func(r Row) string { return r.(*ChatRead).MessageID },
		}}
	case TableNoteShares:
		return []depCheck{
			{
				dependency: "note_shares.note_id",
				parent:     TableNotes,
				ref:        func(r Row) string { return r.(*NoteShare).NoteID },
			},
			{
				dependency:   "note_shares.recipient_user_id",
				parent:       TableUserPresence,
				alwaysStrict: true,
				ref:          func(r Row) string { return r.(*NoteShare).RecipientUserID },
			},
		}
	default:
		return nil
	}
}

// validateDependencies removes rows whose referenced parents exist neither
// server-side nor among the batch's surviving rows. Strict mode makes any
// miss fatal; recipient checks are fatal regardless of mode.
func validateDependencies(
	ctx context.Context,
	tx Tx,
	logger *slog.Logger,
	batch *intakeBatch,
	actor Actor,
	policy SyncPolicy,
	diag *DiagnosticsSnapshot,
) error {
	for _, table := range TableOrder {
		rows := batch.rows(table)
		if len(rows) == 0 {
			continue
		}

		checks := dependencyChecks(table)
		if len(checks) == 0 {
			continue
		}

		missing := make(map[int][]string) // row index -> dependency labels
		for _, check := range checks {
			refs := make(map[string]struct{})
			for _, row := range rows {
				if id := check.ref(row); id != "" {
					refs[id] = struct{}{}
				}
			}
			if len(refs) == 0 {
				continue
			}

			satisfied := inBatchParents(batch, check.parent, actor)
			unresolved := make([]string, 0, len(refs))
			for id := range refs {
				if _, ok := satisfied[id]; !ok {
					unresolved = append(unresolved, id)
				}
			}
			if len(unresolved) > 0 {
				existing, err := tx.ExistingIDs(ctx, check.parent, unresolved)
				if err != nil {
					return fmt.Errorf("dependency check %s: %w", check.dependency, err)
				}
				for id := range existing {
					satisfied[id] = struct{}{}
				}
			}

			misses := 0
			for i, row := range rows {
				id := check.ref(row)
				if id == "" {
					continue
				}
				if _, ok := satisfied[id]; !ok {
					missing[i] = append(missing[i], check.dependency)
					misses++
				}
			}

			if misses > 0 {
				if check.alwaysStrict || policy.StrictDependencies {
					return &DependencyError{Dependency: check.dependency, Count: misses}
				}
				diag.recordSkip(SkipKindDependency, table, check.dependency, misses)
				logger.Warn("Dropped rows with missing parents",
					"table", table, "dependency", check.dependency, "count", misses)
			}
		}

		if len(missing) == 0 {
			continue
		}
		kept := rows[:0]
		for i, row := range rows {
			if _, miss := missing[i]; !miss {
				kept = append(kept, row)
			}
		}
		batch.setRows(table, kept)
	}
	return nil
}

// inBatchParents collects parent ids satisfied by the batch itself: its
// surviving, non-tombstoned rows of the parent table. Pushed presence rows
// never count — recipients must be users the server already knows, except
// the acting user, whose heartbeat is written unconditionally in the same
// transaction.
func inBatchParents(batch *intakeBatch, parent Table, actor Actor) map[string]struct{} {
	out := make(map[string]struct{})
	if parent == TableUserPresence {
		out[actor.ID] = struct{}{}
		return out
	}
	for _, row := range batch.rows(parent) {
		if !row.Meta().IsDeleted() {
			out[row.Meta().ID] = struct{}{}
		}
	}
	return out
}
