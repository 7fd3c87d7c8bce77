// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

// Table identifies one of the synchronizable tables. The set is fixed:
// clients may only push rows for tables listed in TableOrder.
type Table string

const (
	TableEntityTypes     Table = "entity_types"
	TableEntities        Table = "entities"
	TableAttributeDefs   Table = "attribute_defs"
	TableAttributeValues Table = "attribute_values"
	TableOperations      Table = "operations"
	TableAuditLog        Table = "audit_log"
	TableChatMessages    Table = "chat_messages"
	TableChatReads       Table = "chat_reads"
	TableNotes           Table = "notes"
	TableNoteShares      Table = "note_shares"
	TableUserPresence    Table = "user_presence"
)

// TableOrder lists synchronizable tables in dependency order: reference tables
// before the tables that point at them. Batches are always applied in this
// order so remap and dependency information is available when needed.
var TableOrder = []Table{
	TableEntityTypes,
	TableEntities,
	TableAttributeDefs,
	TableAttributeValues,
	TableOperations,
	TableAuditLog,
	TableChatMessages,
	TableChatReads,
	TableNotes,
	TableNoteShares,
	TableUserPresence,
}

var syncTables = func() map[Table]struct{} {
	m := make(map[Table]struct{}, len(TableOrder))
	for _, t := range TableOrder {
		m[t] = struct{}{}
	}
	return m
}()

// IsSyncTable reports whether t belongs to the fixed synchronizable set.
func IsSyncTable(t Table) bool {
	_, ok := syncTables[t]
	return ok
}

// Change operation constants for collected change records and the change log.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// Skip kinds for the diagnostics snapshot.
const (
	SkipKindConflict   = "conflict"
	SkipKindDependency = "dependency"
)

// Change request decision states.
const (
	ChangeRequestPending  = "pending"
	ChangeRequestApproved = "approved"
	ChangeRequestRejected = "rejected"
)

// RoleAdmin is the actor role that bypasses per-row ownership checks.
const RoleAdmin = "admin"

// Operation type discriminators.
const (
	OperationTypeSupplyRequest = "supply_request"
	OperationTypeWorkOrder     = "work_order"
	OperationTypeGeneric       = "generic"
)

// Supply requests are scoped to a singleton container entity that is
// provisioned idempotently the first time an operation references it.
// The identifiers are fixed so every server instance converges on the
// same container rows no matter which client first referenced them.
const (
	SupplyContainerTypeID   = "b4a1f6d0-5070-4c79-8000-000000000001"
	SupplyContainerTypeCode = "supply_container"
	SupplyContainerEntityID = "b4a1f6d0-5070-4c79-8000-000000000002"
	SupplyContainerName     = "Supply requests"
)

// validationSampleLimit bounds how many offending row identifiers are kept
// per table in the intake diagnostics.
const validationSampleLimit = 5
