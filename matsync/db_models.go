// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"encoding/json"
	"time"
)

// Row is the common surface of every synchronizable row. Concrete row types
// embed RowMeta and add their table-specific columns.
type Row interface {
	Meta() *RowMeta
	Table() Table
}

// RowMeta carries the bookkeeping columns every synchronizable row has.
// ServerSeq is the client-echoed server sequence number; it is nil for rows
// the client created offline and has never synced.
type RowMeta struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	ServerSeq *int64     `json:"server_seq,omitempty"`
}

// Meta implements Row for every type that embeds RowMeta.
func (m *RowMeta) Meta() *RowMeta { return m }

// IsDeleted reports whether the row is a tombstone.
func (m *RowMeta) IsDeleted() bool { return m.DeletedAt != nil }

// EntityType is a reference row with a globally-unique business code.
type EntityType struct {
	RowMeta
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

func (*EntityType) Table() Table { return TableEntityTypes }

// Entity is a typed-entity-graph node referencing an EntityType.
type Entity struct {
	RowMeta
	EntityTypeID string  `json:"entity_type_id"`
	Name         *string `json:"name,omitempty"`
}

func (*Entity) Table() Table { return TableEntities }

// AttributeDef declares an attribute for one entity type; the business key
// is (entity_type_id, code).
type AttributeDef struct {
	RowMeta
	EntityTypeID string `json:"entity_type_id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	SortOrder    *int64 `json:"sort_order,omitempty"`
}

func (*AttributeDef) Table() Table { return TableAttributeDefs }

// AttributeValue holds one attribute value keyed by (entity_id, attribute_def_id).
type AttributeValue struct {
	RowMeta
	EntityID       string          `json:"entity_id"`
	AttributeDefID string          `json:"attribute_def_id"`
	Value          json.RawMessage `json:"value,omitempty"`
}

func (*AttributeValue) Table() Table { return TableAttributeValues }

// Operation is a polymorphic business event scoped to an engine entity.
type Operation struct {
	RowMeta
	EngineEntityID string          `json:"engine_entity_id"`
	OperationType  string          `json:"operation_type"`
	Details        json.RawMessage `json:"details,omitempty"`
}

func (*Operation) Table() Table { return TableOperations }

// AuditLogEntry is an append-only record of a user-visible action.
type AuditLogEntry struct {
	RowMeta
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	Action      string  `json:"action"`
	TargetTable string  `json:"target_table,omitempty"`
	TargetRowID string  `json:"target_row_id,omitempty"`
	Details     *string `json:"details,omitempty"`
}

func (*AuditLogEntry) Table() Table { return TableAuditLog }

// ChatMessage is a directed (or broadcast when RecipientID is nil) message.
// Sender fields are always server-stamped from the acting identity.
type ChatMessage struct {
	RowMeta
	SenderID       string  `json:"sender_id"`
	SenderUsername string  `json:"sender_username"`
	RecipientID    *string `json:"recipient_id,omitempty"`
	Body           string  `json:"body"`
}

func (*ChatMessage) Table() Table { return TableChatMessages }

// ChatRead marks a message as read by one user.
type ChatRead struct {
	RowMeta
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

func (*ChatRead) Table() Table { return TableChatReads }

// Note is a user-owned free-form note.
type Note struct {
	RowMeta
	OwnerUserID string `json:"owner_user_id"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
}

func (*Note) Table() Table { return TableNotes }

// NoteShare grants one user access to another user's note.
type NoteShare struct {
	RowMeta
	NoteID          string `json:"note_id"`
	OwnerUserID     string `json:"owner_user_id"`
	RecipientUserID string `json:"recipient_user_id"`
}

func (*NoteShare) Table() Table { return TableNoteShares }

// UserPresence is the per-user heartbeat row. Sync never trusts pushed
// presence payloads; the server writes the acting user's row itself.
type UserPresence struct {
	RowMeta
	UserID     string    `json:"user_id"`
	Username   string    `json:"username"`
	Status     string    `json:"status,omitempty"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

func (*UserPresence) Table() Table { return TableUserPresence }

// --- Server-side records (never pushed by clients) ---

// RowState is the conflict-detection view of a stored row: the authoritative
// server sequence plus the wall-clock fallback signal.
type RowState struct {
	ID        string
	ServerSeq *int64
	UpdatedAt time.Time
	Deleted   bool
}

// RowOwner maps (table, row) to the user that created the row. Set once at
// creation and never overwritten by sync.
type RowOwner struct {
	TableName     Table     `json:"table_name"`
	RowID         string    `json:"row_id"`
	OwnerUserID   string    `json:"owner_user_id"`
	OwnerUsername string    `json:"owner_username"`
	CreatedAt     time.Time `json:"created_at"`
}

// ChangeRequest is a pending proposal to mutate a row the proposing actor
// does not own. Resolution happens in a review workflow outside of sync.
type ChangeRequest struct {
	ID                 string          `json:"id"`
	TargetTable        Table           `json:"target_table"`
	RowID              string          `json:"row_id"`
	ProposedByID       string          `json:"proposed_by_id"`
	ProposedByUsername string          `json:"proposed_by_username"`
	OwnerUserID        string          `json:"owner_user_id"`
	OwnerUsername      string          `json:"owner_username"`
	Before             json.RawMessage `json:"before,omitempty"`
	After              json.RawMessage `json:"after"`
	Status             string          `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
}

// SyncState tracks one client's push/pull watermarks. Mutated on every push,
// never deleted.
type SyncState struct {
	ClientID            string     `json:"client_id"`
	UserID              string     `json:"user_id"`
	LastPushedAt        time.Time  `json:"last_pushed_at"`
	LastPulledAt        *time.Time `json:"last_pulled_at,omitempty"`
	LastPulledServerSeq int64      `json:"last_pulled_server_seq"`
}

// ChangeLogEntry is one durable change-log record stamped with the server
// sequence number assigned to the write.
type ChangeLogEntry struct {
	ServerSeq int64           `json:"server_seq"`
	TableName Table           `json:"table_name"`
	RowID     string          `json:"row_id"`
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	ClientID  string          `json:"client_id"`
	UserID    string          `json:"user_id"`
	Ts        time.Time       `json:"ts"`
}

// AttributeDefKey is the business-unique key of an AttributeDef.
type AttributeDefKey struct {
	EntityTypeID string
	Code         string
}
