// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

// Package memstore is an in-memory implementation of the matsync store,
// used by the engine's unit tests and by demos that run without a
// database. Transactions are snapshot/restore: a failed transaction leaves
// the store exactly as it was.
package memstore

import (
	"context"
	"sync"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
)

type ownerKey struct {
	table matsync.Table
	rowID string
}

// Store holds all synchronizable tables plus the server-side records in
// process memory.
type Store struct {
	mu sync.Mutex

	seq            int64
	tables         map[matsync.Table]map[string]matsync.Row
	owners         map[ownerKey]*matsync.RowOwner
	changeRequests []*matsync.ChangeRequest
	changeLog      []*matsync.ChangeLogEntry
	syncStates     map[string]*matsync.SyncState
	diagnostics    []*matsync.DiagnosticsSnapshot
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables:     make(map[matsync.Table]map[string]matsync.Row),
		owners:     make(map[ownerKey]*matsync.RowOwner),
		syncStates: make(map[string]*matsync.SyncState),
	}
}

// WithTx implements matsync.Store. The whole store is guarded by one mutex;
// a failing fn restores the pre-transaction snapshot.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx matsync.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

type storeSnapshot struct {
	seq            int64
	tables         map[matsync.Table]map[string]matsync.Row
	owners         map[ownerKey]*matsync.RowOwner
	changeRequests []*matsync.ChangeRequest
	changeLog      []*matsync.ChangeLogEntry
	syncStates     map[string]*matsync.SyncState
	diagnostics    []*matsync.DiagnosticsSnapshot
}

func (s *Store) snapshotLocked() *storeSnapshot {
	snap := &storeSnapshot{
		seq:            s.seq,
		tables:         make(map[matsync.Table]map[string]matsync.Row, len(s.tables)),
		owners:         make(map[ownerKey]*matsync.RowOwner, len(s.owners)),
		changeRequests: append([]*matsync.ChangeRequest(nil), s.changeRequests...),
		changeLog:      append([]*matsync.ChangeLogEntry(nil), s.changeLog...),
		syncStates:     make(map[string]*matsync.SyncState, len(s.syncStates)),
		diagnostics:    append([]*matsync.DiagnosticsSnapshot(nil), s.diagnostics...),
	}
	for table, rows := range s.tables {
		copied := make(map[string]matsync.Row, len(rows))
		for id, row := range rows {
			copied[id] = row
		}
		snap.tables[table] = copied
	}
	for k, v := range s.owners {
		snap.owners[k] = v
	}
	for k, v := range s.syncStates {
		snap.syncStates[k] = v
	}
	return snap
}

func (s *Store) restoreLocked(snap *storeSnapshot) {
	s.seq = snap.seq
	s.tables = snap.tables
	s.owners = snap.owners
	s.changeRequests = snap.changeRequests
	s.changeLog = snap.changeLog
	s.syncStates = snap.syncStates
	s.diagnostics = snap.diagnostics
}

func (s *Store) rowsOf(table matsync.Table) map[string]matsync.Row {
	rows, ok := s.tables[table]
	if !ok {
		rows = make(map[string]matsync.Row)
		s.tables[table] = rows
	}
	return rows
}

// --- Inspection helpers for tests ---

// Row returns the stored row, or nil.
func (s *Store) Row(table matsync.Table, id string) matsync.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsOf(table)[id]
}

// RowCount returns how many rows (including tombstones) a table holds.
func (s *Store) RowCount(table matsync.Table) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rowsOf(table))
}

// Owner returns the recorded owner of a row, or nil.
func (s *Store) Owner(table matsync.Table, id string) *matsync.RowOwner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[ownerKey{table: table, rowID: id}]
}

// ChangeRequests returns all stored change requests.
func (s *Store) ChangeRequests() []*matsync.ChangeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*matsync.ChangeRequest(nil), s.changeRequests...)
}

// ChangeLog returns the full change log in append order.
func (s *Store) ChangeLog() []*matsync.ChangeLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*matsync.ChangeLogEntry(nil), s.changeLog...)
}

// SyncState returns the watermark row of one client, or nil.
func (s *Store) SyncState(clientID string) *matsync.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncStates[clientID]
}

// Diagnostics returns every persisted snapshot.
func (s *Store) Diagnostics() []*matsync.DiagnosticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*matsync.DiagnosticsSnapshot(nil), s.diagnostics...)
}

// Seed inserts rows directly, bypassing the engine. Test setup only.
func (s *Store) Seed(table matsync.Table, rows ...matsync.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.rowsOf(table)[row.Meta().ID] = cloneRow(row)
	}
}

// SeedOwner records an owner directly. Test setup only.
func (s *Store) SeedOwner(owner *matsync.RowOwner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := *owner
	s.owners[ownerKey{table: owner.TableName, rowID: owner.RowID}] = &o
}
