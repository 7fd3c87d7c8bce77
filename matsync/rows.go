// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"encoding/json"
	"fmt"
)

// DecodeRow turns one raw pushed row into the typed variant for its table.
// The decode is fallible by design: invalid rows are reported to the caller
// as errors and never abort a batch on their own.
func DecodeRow(table Table, payload json.RawMessage) (Row, error) {
	f, err := newRowFields(payload)
	if err != nil {
		return nil, err
	}
	meta, err := f.meta()
	if err != nil {
		return nil, err
	}

	switch table {
	case TableEntityTypes:
		code, err := f.StrRequired("code")
		if err != nil {
			return nil, err
		}
		name, err := f.StrRequired("name")
		if err != nil {
			return nil, err
		}
		return &EntityType{RowMeta: meta, Code: code, Name: name, Description: f.Str("description")}, nil

	case TableEntities:
		typeID, err := f.StrRequired("entity_type_id")
		if err != nil {
			return nil, err
		}
		return &Entity{RowMeta: meta, EntityTypeID: typeID, Name: f.Str("name")}, nil

	case TableAttributeDefs:
		typeID, err := f.StrRequired("entity_type_id")
		if err != nil {
			return nil, err
		}
		code, err := f.StrRequired("code")
		if err != nil {
			return nil, err
		}
		name, err := f.StrRequired("name")
		if err != nil {
			return nil, err
		}
		dataType, err := f.StrRequired("data_type")
		if err != nil {
			return nil, err
		}
		return &AttributeDef{
			RowMeta:      meta,
			EntityTypeID: typeID,
			Code:         code,
			Name:         name,
			DataType:     dataType,
			SortOrder:    f.Int64("sort_order"),
		}, nil

	case TableAttributeValues:
		entityID, err := f.StrRequired("entity_id")
		if err != nil {
			return nil, err
		}
		defID, err := f.StrRequired("attribute_def_id")
		if err != nil {
			return nil, err
		}
		return &AttributeValue{
			RowMeta:        meta,
			EntityID:       entityID,
			AttributeDefID: defID,
			Value:          f.RawJSON("value"),
		}, nil

	case TableOperations:
		opType, err := f.StrRequired("operation_type")
		if err != nil {
			return nil, err
		}
		engineID := ""
		if s := f.Str("engine_entity_id"); s != nil {
			engineID = *s
		}
		op := &Operation{
			RowMeta:        meta,
			EngineEntityID: engineID,
			OperationType:  opType,
			Details:        f.RawJSON("details"),
		}
		// Supply requests without an explicit scope live in the singleton
		// supply container that sync provisions on first reference.
		if op.OperationType == OperationTypeSupplyRequest && op.EngineEntityID == "" {
			op.EngineEntityID = SupplyContainerEntityID
		}
		if op.EngineEntityID == "" {
			return nil, fmt.Errorf("required field %q is missing or empty", "engine_entity_id")
		}
		return op, nil

	case TableAuditLog:
		action, err := f.StrRequired("action")
		if err != nil {
			return nil, err
		}
		entry := &AuditLogEntry{RowMeta: meta, Action: action, Details: f.Str("details")}
		if s := f.Str("target_table"); s != nil {
			entry.TargetTable = *s
		}
		if s := f.Str("target_row_id"); s != nil {
			entry.TargetRowID = *s
		}
		// user_id/username are server-stamped later; accept whatever was
		// pushed so the decode stays shape-only.
		if s := f.Str("user_id"); s != nil {
			entry.UserID = *s
		}
		if s := f.Str("username"); s != nil {
			entry.Username = *s
		}
		return entry, nil

	case TableChatMessages:
		body, err := f.StrRequired("body")
		if err != nil {
			return nil, err
		}
		msg := &ChatMessage{RowMeta: meta, Body: body, RecipientID: f.Str("recipient_id")}
		if s := f.Str("sender_id"); s != nil {
			msg.SenderID = *s
		}
		if s := f.Str("sender_username"); s != nil {
			msg.SenderUsername = *s
		}
		return msg, nil

	case TableChatReads:
		messageID, err := f.StrRequired("message_id")
		if err != nil {
			return nil, err
		}
		userID, err := f.StrRequired("user_id")
		if err != nil {
			return nil, err
		}
		readAt := meta.UpdatedAt
		if ts := f.Time("read_at"); ts != nil {
			readAt = *ts
		}
		return &ChatRead{RowMeta: meta, MessageID: messageID, UserID: userID, ReadAt: readAt}, nil

	case TableNotes:
		title, err := f.StrRequired("title")
		if err != nil {
			return nil, err
		}
		note := &Note{RowMeta: meta, Title: title}
		if s := f.Str("owner_user_id"); s != nil {
			note.OwnerUserID = *s
		}
		if s := f.Str("body"); s != nil {
			note.Body = *s
		}
		return note, nil

	case TableNoteShares:
		noteID, err := f.StrRequired("note_id")
		if err != nil {
			return nil, err
		}
		recipientID, err := f.StrRequired("recipient_user_id")
		if err != nil {
			return nil, err
		}
		share := &NoteShare{RowMeta: meta, NoteID: noteID, RecipientUserID: recipientID}
		if s := f.Str("owner_user_id"); s != nil {
			share.OwnerUserID = *s
		}
		return share, nil

	case TableUserPresence:
		userID, err := f.StrRequired("user_id")
		if err != nil {
			return nil, err
		}
		username := ""
		if s := f.Str("username"); s != nil {
			username = *s
		}
		status := ""
		if s := f.Str("status"); s != nil {
			status = *s
		}
		lastSeen := meta.UpdatedAt
		if ts := f.Time("last_seen_at"); ts != nil {
			lastSeen = *ts
		}
		return &UserPresence{
			RowMeta:    meta,
			UserID:     userID,
			Username:   username,
			Status:     status,
			LastSeenAt: lastSeen,
		}, nil

	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
}

// MarshalRow renders the effective server-side state of a row, including any
// server-stamped fields, for the change log and collected change records.
func MarshalRow(row Row) json.RawMessage {
	raw, err := json.Marshal(row)
	if err != nil {
		// Row types are plain structs; marshal cannot realistically fail.
		return json.RawMessage("null")
	}
	return raw
}

// semanticEqual reports whether two versions of a row differ only in
// bookkeeping columns (updated_at, server_seq). Such "touch-only" updates
// from non-owners are skipped instead of generating change-request noise.
func semanticEqual(a, b Row) bool {
	if a.Table() != b.Table() {
		return false
	}
	return string(semanticImage(a)) == string(semanticImage(b))
}

func semanticImage(row Row) json.RawMessage {
	raw, err := json.Marshal(row)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	delete(m, "updated_at")
	delete(m, "server_seq")
	delete(m, "created_at")
	out, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return out
}

// rowNewerThan is the dedup tie-breaker: after remapping, rows sharing one
// final identifier keep the version with the greatest updated_at.
func rowNewerThan(a, b Row) bool {
	return a.Meta().UpdatedAt.After(b.Meta().UpdatedAt)
}
