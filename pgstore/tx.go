// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
)

// pgTx implements matsync.Tx on one pgx transaction.
type pgTx struct {
	tx     pgx.Tx
	logger *slog.Logger
}

// tableIdent maps a sync table to its qualified name. Table values come
// from the fixed enumeration, never from client input, so string
// concatenation is safe here.
func tableIdent(t matsync.Table) string {
	return "matsync." + string(t)
}

func (t *pgTx) EntityTypesByCode(ctx context.Context, codes []string) ([]*matsync.EntityType, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, code, name, description, created_at, updated_at, deleted_at, server_seq
		FROM matsync.entity_types
		WHERE deleted_at IS NULL AND code = ANY($1)`, codes)
	if err != nil {
		return nil, fmt.Errorf("select entity types by code: %w", err)
	}
	defer rows.Close()

	var out []*matsync.EntityType
	for rows.Next() {
		et := &matsync.EntityType{}
		if err := rows.Scan(&et.ID, &et.Code, &et.Name, &et.Description,
			&et.CreatedAt, &et.UpdatedAt, &et.DeletedAt, &et.ServerSeq); err != nil {
			return nil, fmt.Errorf("scan entity type: %w", err)
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

func (t *pgTx) AttributeDefsByKey(ctx context.Context, keys []matsync.AttributeDefKey) ([]*matsync.AttributeDef, error) {
	typeIDs := make([]string, len(keys))
	codes := make([]string, len(keys))
	for i, k := range keys {
		typeIDs[i] = k.EntityTypeID
		codes[i] = k.Code
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, entity_type_id, code, name, data_type, sort_order,
		       created_at, updated_at, deleted_at, server_seq
		FROM matsync.attribute_defs
		WHERE deleted_at IS NULL
		  AND (entity_type_id, code) IN (SELECT * FROM unnest($1::text[], $2::text[]))`,
		typeIDs, codes)
	if err != nil {
		return nil, fmt.Errorf("select attribute defs by key: %w", err)
	}
	defer rows.Close()

	var out []*matsync.AttributeDef
	for rows.Next() {
		def := &matsync.AttributeDef{}
		if err := rows.Scan(&def.ID, &def.EntityTypeID, &def.Code, &def.Name, &def.DataType,
			&def.SortOrder, &def.CreatedAt, &def.UpdatedAt, &def.DeletedAt, &def.ServerSeq); err != nil {
			return nil, fmt.Errorf("scan attribute def: %w", err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (t *pgTx) RowStates(ctx context.Context, table matsync.Table, ids []string) (map[string]*matsync.RowState, error) {
	query := fmt.Sprintf(
		`SELECT id, server_seq, updated_at, deleted_at IS NOT NULL FROM %s WHERE id = ANY($1)`,
		tableIdent(table))
	rows, err := t.tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select row states %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]*matsync.RowState)
	for rows.Next() {
		st := &matsync.RowState{}
		if err := rows.Scan(&st.ID, &st.ServerSeq, &st.UpdatedAt, &st.Deleted); err != nil {
			return nil, fmt.Errorf("scan row state: %w", err)
		}
		out[st.ID] = st
	}
	return out, rows.Err()
}

func (t *pgTx) ExistingIDs(ctx context.Context, table matsync.Table, ids []string) (map[string]struct{}, error) {
	query := fmt.Sprintf(
		`SELECT id FROM %s WHERE deleted_at IS NULL AND id = ANY($1)`, tableIdent(table))
	rows, err := t.tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select existing ids %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (t *pgTx) Owners(ctx context.Context, table matsync.Table, ids []string) (map[string]*matsync.RowOwner, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT table_name, row_id, owner_user_id, owner_username, created_at
		FROM matsync.row_owners
		WHERE table_name = $1 AND row_id = ANY($2)`, string(table), ids)
	if err != nil {
		return nil, fmt.Errorf("select owners %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]*matsync.RowOwner)
	for rows.Next() {
		owner := &matsync.RowOwner{}
		if err := rows.Scan(&owner.TableName, &owner.RowID, &owner.OwnerUserID,
			&owner.OwnerUsername, &owner.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		out[owner.RowID] = owner
	}
	return out, rows.Err()
}

func (t *pgTx) NoteShareExists(ctx context.Context, noteID, recipientUserID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM matsync.note_shares
			WHERE note_id = $1 AND recipient_user_id = $2 AND deleted_at IS NULL
		)`, noteID, recipientUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("note share exists: %w", err)
	}
	return exists, nil
}

func (t *pgTx) AllocateSeq(ctx context.Context, n int) (int64, error) {
	var last int64
	err := t.tx.QueryRow(ctx, `
		UPDATE matsync.seq_counter SET value = value + $1 WHERE singleton RETURNING value`,
		int64(n)).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("allocate seq block: %w", err)
	}
	return last - int64(n) + 1, nil
}

func (t *pgTx) AppendChangeLog(ctx context.Context, entries []*matsync.ChangeLogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO matsync.server_change_log
				(server_seq, table_name, row_id, op, payload, client_id, user_id, ts)
			VALUES (@server_seq, @table_name, @row_id, @op, @payload::json, @client_id, @user_id, @ts)`,
			pgx.NamedArgs{
				"server_seq": e.ServerSeq,
				"table_name": string(e.TableName),
				"row_id":     e.RowID,
				"op":         e.Op,
				"payload":    []byte(e.Payload),
				"client_id":  e.ClientID,
				"user_id":    e.UserID,
				"ts":         e.Ts,
			})
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append change log: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOwnerIfAbsent(ctx context.Context, owner *matsync.RowOwner) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO matsync.row_owners (table_name, row_id, owner_user_id, owner_username, created_at)
		VALUES (@table_name, @row_id, @owner_user_id, @owner_username, @created_at)
		ON CONFLICT (table_name, row_id) DO NOTHING`,
		pgx.NamedArgs{
			"table_name":     string(owner.TableName),
			"row_id":         owner.RowID,
			"owner_user_id":  owner.OwnerUserID,
			"owner_username": owner.OwnerUsername,
			"created_at":     owner.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("insert owner: %w", err)
	}
	return nil
}

func (t *pgTx) InsertChangeRequest(ctx context.Context, cr *matsync.ChangeRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO matsync.change_requests
			(id, target_table, row_id, proposed_by_id, proposed_by_username,
			 owner_user_id, owner_username, before, after, status, created_at)
		VALUES (@id, @target_table, @row_id, @proposed_by_id, @proposed_by_username,
			 @owner_user_id, @owner_username, @before::json, @after::json, @status, @created_at)`,
		pgx.NamedArgs{
			"id":                   cr.ID,
			"target_table":         string(cr.TargetTable),
			"row_id":               cr.RowID,
			"proposed_by_id":       cr.ProposedByID,
			"proposed_by_username": cr.ProposedByUsername,
			"owner_user_id":        cr.OwnerUserID,
			"owner_username":       cr.OwnerUsername,
			"before":               nilIfEmpty(cr.Before),
			"after":                []byte(cr.After),
			"status":               cr.Status,
			"created_at":           cr.CreatedAt,
		})
	if err != nil {
		return fmt.Errorf("insert change request: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertSyncState(ctx context.Context, st *matsync.SyncState) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO matsync.sync_state (client_id, user_id, last_pushed_at)
		VALUES (@client_id, @user_id, @last_pushed_at)
		ON CONFLICT (client_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			last_pushed_at = EXCLUDED.last_pushed_at`,
		pgx.NamedArgs{
			"client_id":      st.ClientID,
			"user_id":        st.UserID,
			"last_pushed_at": st.LastPushedAt,
		})
	if err != nil {
		return fmt.Errorf("upsert sync state: %w", err)
	}
	return nil
}

func (t *pgTx) UpsertPresence(ctx context.Context, p *matsync.UserPresence) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO matsync.user_presence
			(id, user_id, username, status, last_seen_at, created_at, updated_at)
		VALUES (@id, @user_id, @username, @status, @last_seen_at, @created_at, @updated_at)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			status = EXCLUDED.status,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL`,
		pgx.NamedArgs{
			"id":           p.ID,
			"user_id":      p.UserID,
			"username":     p.Username,
			"status":       p.Status,
			"last_seen_at": p.LastSeenAt,
			"created_at":   p.CreatedAt,
			"updated_at":   p.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("upsert presence: %w", err)
	}
	return nil
}

func (t *pgTx) EnsureContainer(ctx context.Context, et *matsync.EntityType, e *matsync.Entity) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO matsync.entity_types (id, code, name, created_at, updated_at)
		VALUES (@id, @code, @name, @created_at, @updated_at)
		ON CONFLICT DO NOTHING`,
		pgx.NamedArgs{
			"id":         et.ID,
			"code":       et.Code,
			"name":       et.Name,
			"created_at": et.CreatedAt,
			"updated_at": et.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("ensure container type: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO matsync.entities (id, entity_type_id, name, created_at, updated_at)
		VALUES (@id, @entity_type_id, @name, @created_at, @updated_at)
		ON CONFLICT DO NOTHING`,
		pgx.NamedArgs{
			"id":             e.ID,
			"entity_type_id": e.EntityTypeID,
			"name":           e.Name,
			"created_at":     e.CreatedAt,
			"updated_at":     e.UpdatedAt,
		})
	if err != nil {
		return fmt.Errorf("ensure container entity: %w", err)
	}
	return nil
}

func (t *pgTx) SaveDiagnostics(ctx context.Context, snap *matsync.DiagnosticsSnapshot) error {
	dropped, err := json.Marshal(snap.Dropped)
	if err != nil {
		return fmt.Errorf("marshal dropped: %w", err)
	}
	skipped, err := json.Marshal(snap.Skipped)
	if err != nil {
		return fmt.Errorf("marshal skipped: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO matsync.sync_diagnostics (id, client_id, user_id, created_at, dropped, skipped)
		VALUES (@id, @client_id, @user_id, @created_at, @dropped::json, @skipped::json)`,
		pgx.NamedArgs{
			"id":         snap.ID,
			"client_id":  snap.ClientID,
			"user_id":    snap.UserID,
			"created_at": snap.CreatedAt,
			"dropped":    dropped,
			"skipped":    skipped,
		})
	if err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	return nil
}

func (t *pgTx) ActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT user_id FROM matsync.user_presence WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("select active users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nilIfEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
