// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"context"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
)

// memTx implements matsync.Tx against the store maps. The enclosing WithTx
// already holds the store mutex.
type memTx struct {
	store *Store
}

func (t *memTx) EntityTypesByCode(ctx context.Context, codes []string) ([]*matsync.EntityType, error) {
	want := stringSet(codes)
	var out []*matsync.EntityType
	for _, row := range t.store.rowsOf(matsync.TableEntityTypes) {
		et := row.(*matsync.EntityType)
		if _, ok := want[et.Code]; ok && !et.IsDeleted() {
			out = append(out, cloneRow(et).(*matsync.EntityType))
		}
	}
	return out, nil
}

func (t *memTx) AttributeDefsByKey(ctx context.Context, keys []matsync.AttributeDefKey) ([]*matsync.AttributeDef, error) {
	want := make(map[matsync.AttributeDefKey]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	var out []*matsync.AttributeDef
	for _, row := range t.store.rowsOf(matsync.TableAttributeDefs) {
		def := row.(*matsync.AttributeDef)
		key := matsync.AttributeDefKey{EntityTypeID: def.EntityTypeID, Code: def.Code}
		if _, ok := want[key]; ok && !def.IsDeleted() {
			out = append(out, cloneRow(def).(*matsync.AttributeDef))
		}
	}
	return out, nil
}

func (t *memTx) RowStates(ctx context.Context, table matsync.Table, ids []string) (map[string]*matsync.RowState, error) {
	rows := t.store.rowsOf(table)
	out := make(map[string]*matsync.RowState)
	for _, id := range ids {
		row, ok := rows[id]
		if !ok {
			continue
		}
		m := row.Meta()
		out[id] = &matsync.RowState{
			ID:        id,
			ServerSeq: cloneInt64(m.ServerSeq),
			UpdatedAt: m.UpdatedAt,
			Deleted:   m.IsDeleted(),
		}
	}
	return out, nil
}

func (t *memTx) Rows(ctx context.Context, table matsync.Table, ids []string) (map[string]matsync.Row, error) {
	rows := t.store.rowsOf(table)
	out := make(map[string]matsync.Row)
	for _, id := range ids {
		if row, ok := rows[id]; ok {
			out[id] = cloneRow(row)
		}
	}
	return out, nil
}

func (t *memTx) ExistingIDs(ctx context.Context, table matsync.Table, ids []string) (map[string]struct{}, error) {
	rows := t.store.rowsOf(table)
	out := make(map[string]struct{})
	for _, id := range ids {
		if row, ok := rows[id]; ok && !row.Meta().IsDeleted() {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (t *memTx) Owners(ctx context.Context, table matsync.Table, ids []string) (map[string]*matsync.RowOwner, error) {
	out := make(map[string]*matsync.RowOwner)
	for _, id := range ids {
		if owner, ok := t.store.owners[ownerKey{table: table, rowID: id}]; ok {
			o := *owner
			out[id] = &o
		}
	}
	return out, nil
}

func (t *memTx) NoteShareExists(ctx context.Context, noteID, recipientUserID string) (bool, error) {
	for _, row := range t.store.rowsOf(matsync.TableNoteShares) {
		share := row.(*matsync.NoteShare)
		if share.NoteID == noteID && share.RecipientUserID == recipientUserID && !share.IsDeleted() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) UpsertRows(ctx context.Context, table matsync.Table, rows []matsync.Row) error {
	stored := t.store.rowsOf(table)
	for _, row := range rows {
		stored[row.Meta().ID] = cloneRow(row)
	}
	return nil
}

func (t *memTx) AllocateSeq(ctx context.Context, n int) (int64, error) {
	first := t.store.seq + 1
	t.store.seq += int64(n)
	return first, nil
}

func (t *memTx) AppendChangeLog(ctx context.Context, entries []*matsync.ChangeLogEntry) error {
	for _, e := range entries {
		entry := *e
		t.store.changeLog = append(t.store.changeLog, &entry)
	}
	return nil
}

func (t *memTx) InsertOwnerIfAbsent(ctx context.Context, owner *matsync.RowOwner) error {
	key := ownerKey{table: owner.TableName, rowID: owner.RowID}
	if _, exists := t.store.owners[key]; exists {
		return nil
	}
	o := *owner
	t.store.owners[key] = &o
	return nil
}

func (t *memTx) InsertChangeRequest(ctx context.Context, cr *matsync.ChangeRequest) error {
	c := *cr
	t.store.changeRequests = append(t.store.changeRequests, &c)
	return nil
}

func (t *memTx) UpsertSyncState(ctx context.Context, st *matsync.SyncState) error {
	prev, ok := t.store.syncStates[st.ClientID]
	next := *st
	if ok {
		// Pull watermarks survive pushes.
		next.LastPulledAt = prev.LastPulledAt
		next.LastPulledServerSeq = prev.LastPulledServerSeq
	}
	t.store.syncStates[st.ClientID] = &next
	return nil
}

func (t *memTx) UpsertPresence(ctx context.Context, p *matsync.UserPresence) error {
	t.store.rowsOf(matsync.TableUserPresence)[p.UserID] = cloneRow(p)
	return nil
}

func (t *memTx) EnsureContainer(ctx context.Context, et *matsync.EntityType, e *matsync.Entity) error {
	types := t.store.rowsOf(matsync.TableEntityTypes)
	if _, exists := types[et.ID]; !exists {
		types[et.ID] = cloneRow(et)
	}
	entities := t.store.rowsOf(matsync.TableEntities)
	if _, exists := entities[e.ID]; !exists {
		entities[e.ID] = cloneRow(e)
	}
	return nil
}

func (t *memTx) SaveDiagnostics(ctx context.Context, snap *matsync.DiagnosticsSnapshot) error {
	s := *snap
	s.Dropped = append([]matsync.DroppedRows(nil), snap.Dropped...)
	s.Skipped = append([]matsync.SkippedRows(nil), snap.Skipped...)
	t.store.diagnostics = append(t.store.diagnostics, &s)
	return nil
}

func (t *memTx) ActiveUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for _, row := range t.store.rowsOf(matsync.TableUserPresence) {
		p := row.(*matsync.UserPresence)
		if !p.IsDeleted() {
			ids = append(ids, p.UserID)
		}
	}
	return ids, nil
}

func stringSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
