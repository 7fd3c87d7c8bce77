// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// writeBatch performs the actual bulk upserts for every table's surviving
// row set, stamps server sequence numbers, appends the durable change log,
// and flushes the in-transaction side effects (owner grants, change
// requests, sync state, presence heartbeat). Everything here happens inside
// the caller's transaction: either all of it commits or none of it does.
func writeBatch(
	ctx context.Context,
	tx Tx,
	logger *slog.Logger,
	batch *intakeBatch,
	actor Actor,
	policy SyncPolicy,
	clientID string,
	effects *pendingEffects,
	diag *DiagnosticsSnapshot,
) (*PushResponse, error) {
	if err := ensureOperationContainers(ctx, tx, batch); err != nil {
		return nil, err
	}

	total := 0
	for _, table := range TableOrder {
		total += len(batch.rows(table))
	}

	resp := &PushResponse{}
	now := time.Now().UTC()

	if total > 0 {
		firstSeq, err := tx.AllocateSeq(ctx, total)
		if err != nil {
			return nil, fmt.Errorf("allocate server seq: %w", err)
		}

		seq := firstSeq
		var logEntries []*ChangeLogEntry
		for _, table := range TableOrder {
			rows := batch.rows(table)
			if len(rows) == 0 {
				continue
			}

			for _, row := range rows {
				m := row.Meta()
				assigned := seq
				seq++
				m.ServerSeq = &assigned

				op := OpUpsert
				if m.IsDeleted() {
					op = OpDelete
				}
				payload := MarshalRow(row)
				logEntries = append(logEntries, &ChangeLogEntry{
					ServerSeq: assigned,
					TableName: table,
					RowID:     m.ID,
					Op:        op,
					Payload:   payload,
					ClientID:  clientID,
					UserID:    actor.ID,
					Ts:        now,
				})
				if policy.CollectChanges {
					resp.Changes = append(resp.Changes, ChangeRecord{
						Table:       table,
						RowID:       m.ID,
						Op:          op,
						PayloadJSON: payload,
					})
				}
			}

			if err := tx.UpsertRows(ctx, table, rows); err != nil {
				return nil, fmt.Errorf("upsert %s: %w", table, err)
			}
			resp.Applied += len(rows)
		}

		if err := tx.AppendChangeLog(ctx, logEntries); err != nil {
			return nil, fmt.Errorf("append change log: %w", err)
		}
	}

	// Owner grants are insert-if-absent: ownership set at creation is never
	// overwritten by a retried batch.
	for _, grant := range effects.OwnerGrants {
		if err := tx.InsertOwnerIfAbsent(ctx, grant); err != nil {
			return nil, fmt.Errorf("record owner %s/%s: %w", grant.TableName, grant.RowID, err)
		}
	}

	for _, cr := range effects.ChangeRequests {
		if err := tx.InsertChangeRequest(ctx, cr); err != nil {
			return nil, fmt.Errorf("record change request for %s/%s: %w", cr.TargetTable, cr.RowID, err)
		}
	}

	// The heartbeat is sourced from the trusted acting identity and written
	// on every batch, regardless of what the client pushed.
	if err := tx.UpsertPresence(ctx, &UserPresence{
		RowMeta:    RowMeta{ID: actor.ID, CreatedAt: now, UpdatedAt: now},
		UserID:     actor.ID,
		Username:   actor.Username,
		Status:     "online",
		LastSeenAt: now,
	}); err != nil {
		return nil, fmt.Errorf("presence heartbeat: %w", err)
	}

	if err := tx.UpsertSyncState(ctx, &SyncState{
		ClientID:     clientID,
		UserID:       actor.ID,
		LastPushedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("update sync state: %w", err)
	}

	if !diag.isEmpty() {
		if err := tx.SaveDiagnostics(ctx, diag); err != nil {
			// Diagnostics are best-effort; losing a snapshot must not fail
			// an otherwise valid batch.
			logger.Warn("Failed to persist sync diagnostics", "error", err, "client_id", clientID)
		}
	}

	logger.Info("Push batch written",
		"client_id", clientID, "user_id", actor.ID,
		"applied", resp.Applied,
		"owner_grants", len(effects.OwnerGrants),
		"change_requests", len(effects.ChangeRequests),
		"notifications", len(effects.Notifications))

	return resp, nil
}

// ensureOperationContainers idempotently provisions the singleton container
// entity-type/entity pair for operation types that need one. Insert-if-absent
// keeps repeated batches from duplicating the container.
func ensureOperationContainers(ctx context.Context, tx Tx, batch *intakeBatch) error {
	needed := false
	for _, row := range batch.rows(TableOperations) {
		if row.(*Operation).EngineEntityID == SupplyContainerEntityID {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	now := time.Now().UTC()
	name := SupplyContainerName
	containerType := &EntityType{
		RowMeta: RowMeta{ID: SupplyContainerTypeID, CreatedAt: now, UpdatedAt: now},
		Code:    SupplyContainerTypeCode,
		Name:    name,
	}
	containerEntity := &Entity{
		RowMeta:      RowMeta{ID: SupplyContainerEntityID, CreatedAt: now, UpdatedAt: now},
		EntityTypeID: SupplyContainerTypeID,
		Name:         &name,
	}
	if err := tx.EnsureContainer(ctx, containerType, containerEntity); err != nil {
		return fmt.Errorf("provision supply container: %w", err)
	}
	return nil
}
