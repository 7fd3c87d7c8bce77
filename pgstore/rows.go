// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
)

// Rows loads full rows, including tombstones, for ownership checks and
// change-request snapshots.
func (t *pgTx) Rows(ctx context.Context, table matsync.Table, ids []string) (map[string]matsync.Row, error) {
	columns, ok := tableColumns[table]
	if !ok {
		return nil, fmt.Errorf("select rows: %w: %s", matsync.ErrUnknownTable, table)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1)`,
		columns, tableIdent(table))
	rows, err := t.tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select rows %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]matsync.Row)
	for rows.Next() {
		row, err := scanRow(table, rows)
		if err != nil {
			return nil, fmt.Errorf("scan row %s: %w", table, err)
		}
		out[row.Meta().ID] = row
	}
	return out, rows.Err()
}

// UpsertRows writes one table's accepted rows. Remapping has already
// collapsed identity duplicates, so a plain insert-or-replace by id is
// enough; soft deletes land as a non-null deleted_at.
func (t *pgTx) UpsertRows(ctx context.Context, table matsync.Table, rows []matsync.Row) error {
	if len(rows) == 0 {
		return nil
	}
	query, ok := upsertSQL[table]
	if !ok {
		return fmt.Errorf("upsert rows: %w: %s", matsync.ErrUnknownTable, table)
	}
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, upsertArgs(row))
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert rows %s: %w", table, err)
	}
	return nil
}

// tableColumns lists each table's columns in the order scanRow reads them.
var tableColumns = map[matsync.Table]string{
	matsync.TableEntityTypes:     `id, code, name, description, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableEntities:        `id, entity_type_id, name, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableAttributeDefs:   `id, entity_type_id, code, name, data_type, sort_order, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableAttributeValues: `id, entity_id, attribute_def_id, value, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableOperations:      `id, engine_entity_id, operation_type, details, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableAuditLog:        `id, user_id, username, action, target_table, target_row_id, details, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableChatMessages:    `id, sender_id, sender_username, recipient_id, body, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableChatReads:       `id, message_id, user_id, read_at, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableNotes:           `id, owner_user_id, title, body, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableNoteShares:      `id, note_id, owner_user_id, recipient_user_id, created_at, updated_at, deleted_at, server_seq`,
	matsync.TableUserPresence:    `id, user_id, username, status, last_seen_at, created_at, updated_at, deleted_at, server_seq`,
}

func scanRow(table matsync.Table, rows pgx.Rows) (matsync.Row, error) {
	switch table {
	case matsync.TableEntityTypes:
		r := &matsync.EntityType{}
		err := rows.Scan(&r.ID, &r.Code, &r.Name, &r.Description,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableEntities:
		r := &matsync.Entity{}
		err := rows.Scan(&r.ID, &r.EntityTypeID, &r.Name,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableAttributeDefs:
		r := &matsync.AttributeDef{}
		err := rows.Scan(&r.ID, &r.EntityTypeID, &r.Code, &r.Name, &r.DataType, &r.SortOrder,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableAttributeValues:
		r := &matsync.AttributeValue{}
		err := rows.Scan(&r.ID, &r.EntityID, &r.AttributeDefID, &r.Value,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableOperations:
		r := &matsync.Operation{}
		err := rows.Scan(&r.ID, &r.EngineEntityID, &r.OperationType, &r.Details,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableAuditLog:
		r := &matsync.AuditLogEntry{}
		err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.Action, &r.TargetTable, &r.TargetRowID, &r.Details,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableChatMessages:
		r := &matsync.ChatMessage{}
		err := rows.Scan(&r.ID, &r.SenderID, &r.SenderUsername, &r.RecipientID, &r.Body,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableChatReads:
		r := &matsync.ChatRead{}
		err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.ReadAt,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableNotes:
		r := &matsync.Note{}
		err := rows.Scan(&r.ID, &r.OwnerUserID, &r.Title, &r.Body,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableNoteShares:
		r := &matsync.NoteShare{}
		err := rows.Scan(&r.ID, &r.NoteID, &r.OwnerUserID, &r.RecipientUserID,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	case matsync.TableUserPresence:
		r := &matsync.UserPresence{}
		err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.Status, &r.LastSeenAt,
			&r.CreatedAt, &r.UpdatedAt, &r.DeletedAt, &r.ServerSeq)
		return r, err
	default:
		return nil, fmt.Errorf("%w: %s", matsync.ErrUnknownTable, table)
	}
}

var upsertSQL = map[matsync.Table]string{
	matsync.TableEntityTypes: `
		INSERT INTO matsync.entity_types
			(id, code, name, description, created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @code, @name, @description, @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			code = EXCLUDED.code, name = EXCLUDED.name, description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableEntities: `
		INSERT INTO matsync.entities
			(id, entity_type_id, name, created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @entity_type_id, @name, @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			entity_type_id = EXCLUDED.entity_type_id, name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableAttributeDefs: `
		INSERT INTO matsync.attribute_defs
			(id, entity_type_id, code, name, data_type, sort_order,
			 created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @entity_type_id, @code, @name, @data_type, @sort_order,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			entity_type_id = EXCLUDED.entity_type_id, code = EXCLUDED.code,
			name = EXCLUDED.name, data_type = EXCLUDED.data_type, sort_order = EXCLUDED.sort_order,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableAttributeValues: `
		INSERT INTO matsync.attribute_values
			(id, entity_id, attribute_def_id, value, created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @entity_id, @attribute_def_id, @value::json,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			entity_id = EXCLUDED.entity_id, attribute_def_id = EXCLUDED.attribute_def_id,
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableOperations: `
		INSERT INTO matsync.operations
			(id, engine_entity_id, operation_type, details,
			 created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @engine_entity_id, @operation_type, @details::json,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			engine_entity_id = EXCLUDED.engine_entity_id, operation_type = EXCLUDED.operation_type,
			details = EXCLUDED.details,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableAuditLog: `
		INSERT INTO matsync.audit_log
			(id, user_id, username, action, target_table, target_row_id, details,
			 created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @user_id, @username, @action, @target_table, @target_row_id, @details,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, username = EXCLUDED.username, action = EXCLUDED.action,
			target_table = EXCLUDED.target_table, target_row_id = EXCLUDED.target_row_id,
			details = EXCLUDED.details,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableChatMessages: `
		INSERT INTO matsync.chat_messages
			(id, sender_id, sender_username, recipient_id, body,
			 created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @sender_id, @sender_username, @recipient_id, @body,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			sender_id = EXCLUDED.sender_id, sender_username = EXCLUDED.sender_username,
			recipient_id = EXCLUDED.recipient_id, body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableChatReads: `
		INSERT INTO matsync.chat_reads
			(id, message_id, user_id, read_at, created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @message_id, @user_id, @read_at,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			message_id = EXCLUDED.message_id, user_id = EXCLUDED.user_id,
			read_at = EXCLUDED.read_at,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableNotes: `
		INSERT INTO matsync.notes
			(id, owner_user_id, title, body, created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @owner_user_id, @title, @body,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			owner_user_id = EXCLUDED.owner_user_id, title = EXCLUDED.title, body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableNoteShares: `
		INSERT INTO matsync.note_shares
			(id, note_id, owner_user_id, recipient_user_id,
			 created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @note_id, @owner_user_id, @recipient_user_id,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			note_id = EXCLUDED.note_id, owner_user_id = EXCLUDED.owner_user_id,
			recipient_user_id = EXCLUDED.recipient_user_id,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
	matsync.TableUserPresence: `
		INSERT INTO matsync.user_presence
			(id, user_id, username, status, last_seen_at,
			 created_at, updated_at, deleted_at, server_seq)
		VALUES (@id, @user_id, @username, @status, @last_seen_at,
			 @created_at, @updated_at, @deleted_at, @server_seq)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id, username = EXCLUDED.username, status = EXCLUDED.status,
			last_seen_at = EXCLUDED.last_seen_at,
			updated_at = EXCLUDED.updated_at, deleted_at = EXCLUDED.deleted_at,
			server_seq = EXCLUDED.server_seq`,
}

func upsertArgs(row matsync.Row) pgx.NamedArgs {
	m := row.Meta()
	args := pgx.NamedArgs{
		"id":         m.ID,
		"created_at": m.CreatedAt,
		"updated_at": m.UpdatedAt,
		"deleted_at": m.DeletedAt,
		"server_seq": m.ServerSeq,
	}
	switch r := row.(type) {
	case *matsync.EntityType:
		args["code"] = r.Code
		args["name"] = r.Name
		args["description"] = r.Description
	case *matsync.Entity:
		args["entity_type_id"] = r.EntityTypeID
		args["name"] = r.Name
	case *matsync.AttributeDef:
		args["entity_type_id"] = r.EntityTypeID
		args["code"] = r.Code
		args["name"] = r.Name
		args["data_type"] = r.DataType
		args["sort_order"] = r.SortOrder
	case *matsync.AttributeValue:
		args["entity_id"] = r.EntityID
		args["attribute_def_id"] = r.AttributeDefID
		args["value"] = []byte(r.Value)
	case *matsync.Operation:
		args["engine_entity_id"] = r.EngineEntityID
		args["operation_type"] = r.OperationType
		args["details"] = []byte(r.Details)
	case *matsync.AuditLogEntry:
		args["user_id"] = r.UserID
		args["username"] = r.Username
		args["action"] = r.Action
		args["target_table"] = r.TargetTable
		args["target_row_id"] = r.TargetRowID
		args["details"] = r.Details
	case *matsync.ChatMessage:
		args["sender_id"] = r.SenderID
		args["sender_username"] = r.SenderUsername
		args["recipient_id"] = r.RecipientID
		args["body"] = r.Body
	case *matsync.ChatRead:
		args["message_id"] = r.MessageID
		args["user_id"] = r.UserID
		args["read_at"] = r.ReadAt
	case *matsync.Note:
		args["owner_user_id"] = r.OwnerUserID
		args["title"] = r.Title
		args["body"] = r.Body
	case *matsync.NoteShare:
		args["note_id"] = r.NoteID
		args["owner_user_id"] = r.OwnerUserID
		args["recipient_user_id"] = r.RecipientUserID
	case *matsync.UserPresence:
		args["user_id"] = r.UserID
		args["username"] = r.Username
		args["status"] = r.Status
		args["last_seen_at"] = r.LastSeenAt
	}
	return args
}
