// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
	"fmt"
	"log/slog"
)

// The conflict filter decides whether an incoming row may overwrite the
// server's current version. The server sequence number is the authoritative
// signal; updated_at is the fallback when either side lacks one.

// filterConflicts removes stale rows from every table group. Under the
// default policy any stale row aborts the batch with a ConflictError; under
// AllowConflicts (recovery/replay) stale rows are dropped and counted.
func filterConflicts(
	ctx context.Context,
	tx Tx,
	logger *slog.Logger,
	batch *intakeBatch,
	policy SyncPolicy,
	diag *DiagnosticsSnapshot,
) error {
	for _, table := range TableOrder {
		rows := batch.rows(table)
		if len(rows) == 0 {
			continue
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.Meta().ID)
		}
		states, err := tx.RowStates(ctx, table, ids)
		if err != nil {
			return fmt.Errorf("conflict filter %s: %w", table, err)
		}

		kept := rows[:0]
		conflicts := 0
		for _, row := range rows {
			stored, exists := states[row.Meta().ID]
			if !exists || incomingWins(row.Meta(), stored) {
				kept = append(kept, row)
				continue
			}
			conflicts++
			logger.Debug("Stale row rejected by conflict filter",
				"table", table, "row_id", row.Meta().ID,
				"incoming_seq", seqOrNil(row.Meta().ServerSeq),
				"stored_seq", seqOrNil(stored.ServerSeq),
				"incoming_updated_at", row.Meta().UpdatedAt,
				"stored_updated_at", stored.UpdatedAt)
		}

		if conflicts > 0 {
			if !policy.AllowConflicts {
				return &ConflictError{Table: table, Count: conflicts}
			}
			diag.recordSkip(SkipKindConflict, table, "", conflicts)
			logger.Warn("Dropped conflicting rows",
				"table", table, "conflicts", conflicts)
		}
		batch.setRows(table, kept)
	}
	return nil
}

// incomingWins is the per-row LWW gate.
//
// With sequence numbers on both sides the incoming row wins iff its sequence
// is at least the stored one: an equal sequence means the client is editing
// exactly the version it last saw.
//
// Without a usable sequence pair, updated_at decides, with one asymmetry: a
// sequence-less "undelete" never overrides a tombstone whose deletion the
// server has already sequenced. Stale offline caches must not resurrect
// deleted rows.
func incomingWins(incoming *RowMeta, stored *RowState) bool {
	if incoming.ServerSeq != nil && stored.ServerSeq != nil {
		return *incoming.ServerSeq >= *stored.ServerSeq
	}
	if stored.Deleted && stored.ServerSeq != nil && incoming.ServerSeq == nil && !incoming.IsDeleted() {
		return false
	}
	return !incoming.UpdatedAt.Before(stored.UpdatedAt)
}

func seqOrNil(seq *int64) any {
	if seq == nil {
		return nil
	}
	return *seq
}
