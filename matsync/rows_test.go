// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeRow(t *testing.T) {
	t.Run("entity type with full meta", func(t *testing.T) {
		row, err := DecodeRow(TableEntityTypes, json.RawMessage(`{
			"id": "et-1",
			"code": "engine",
			"name": "Engine",
			"description": "diesel family",
			"created_at": "2026-08-01T12:00:00Z",
			"updated_at": "2026-08-01T13:00:00Z",
			"server_seq": 42
		}`))
		require.NoError(t, err)
		et := row.(*EntityType)
		require.Equal(t, "et-1", et.ID)
		require.Equal(t, "engine", et.Code)
		require.NotNil(t, et.Description)
		require.NotNil(t, et.ServerSeq)
		require.Equal(t, int64(42), *et.ServerSeq)
		require.False(t, et.IsDeleted())
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := DecodeRow(TableEntityTypes, json.RawMessage(`{
			"id": "et-1",
			"created_at": "2026-08-01T12:00:00Z",
			"updated_at": "2026-08-01T12:00:00Z"
		}`))
		require.Error(t, err)
		require.Contains(t, err.Error(), "code")
	})

	t.Run("unix millisecond timestamps accepted", func(t *testing.T) {
		row, err := DecodeRow(TableEntities, json.RawMessage(`{
			"id": "e-1",
			"entity_type_id": "et-1",
			"created_at": 1754049600000,
			"updated_at": 1754053200000
		}`))
		require.NoError(t, err)
		require.Equal(t, int64(1754053200000), row.Meta().UpdatedAt.UnixMilli())
	})

	t.Run("tombstone carries deleted_at", func(t *testing.T) {
		row, err := DecodeRow(TableEntities, json.RawMessage(`{
			"id": "e-1",
			"entity_type_id": "et-1",
			"created_at": "2026-08-01T12:00:00Z",
			"updated_at": "2026-08-01T14:00:00Z",
			"deleted_at": "2026-08-01T14:00:00Z"
		}`))
		require.NoError(t, err)
		require.True(t, row.Meta().IsDeleted())
	})

	t.Run("scopeless supply request lands in the container", func(t *testing.T) {
		row, err := DecodeRow(TableOperations, json.RawMessage(`{
			"id": "op-1",
			"operation_type": "supply_request",
			"details": {"item": "gasket"},
			"created_at": "2026-08-01T12:00:00Z",
			"updated_at": "2026-08-01T12:00:00Z"
		}`))
		require.NoError(t, err)
		op := row.(*Operation)
		require.Equal(t, SupplyContainerEntityID, op.EngineEntityID)
		require.JSONEq(t, `{"item":"gasket"}`, string(op.Details))
	})

	t.Run("scopeless generic operation is invalid", func(t *testing.T) {
		_, err := DecodeRow(TableOperations, json.RawMessage(`{
			"id": "op-1",
			"operation_type": "work_order",
			"created_at": "2026-08-01T12:00:00Z",
			"updated_at": "2026-08-01T12:00:00Z"
		}`))
		require.Error(t, err)
		require.Contains(t, err.Error(), "engine_entity_id")
	})

	t.Run("not an object", func(t *testing.T) {
		_, err := DecodeRow(TableNotes, json.RawMessage(`[1,2,3]`))
		require.Error(t, err)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := DecodeRow("bogus", json.RawMessage(`{
			"id": "x",
			"created_at": "2026-08-01T12:00:00Z",
			"updated_at": "2026-08-01T12:00:00Z"
		}`))
		require.Error(t, err)
	})
}

func TestSemanticEqual(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	name := "pump"

	base := &Entity{
		RowMeta:      RowMeta{ID: "e-1", CreatedAt: t0, UpdatedAt: t0},
		EntityTypeID: "et-1",
		Name:         &name,
	}

	t.Run("bookkeeping-only differences are equal", func(t *testing.T) {
		seq := int64(7)
		touched := &Entity{
			RowMeta:      RowMeta{ID: "e-1", CreatedAt: t0.Add(time.Minute), UpdatedAt: t0.Add(time.Hour), ServerSeq: &seq},
			EntityTypeID: "et-1",
			Name:         &name,
		}
		require.True(t, semanticEqual(touched, base))
	})

	t.Run("content differences are not", func(t *testing.T) {
		renamed := "pump v2"
		changed := &Entity{
			RowMeta:      RowMeta{ID: "e-1", CreatedAt: t0, UpdatedAt: t0},
			EntityTypeID: "et-1",
			Name:         &renamed,
		}
		require.False(t, semanticEqual(changed, base))
	})

	t.Run("tombstoning is a content change", func(t *testing.T) {
		deleted := &Entity{
			RowMeta:      RowMeta{ID: "e-1", CreatedAt: t0, UpdatedAt: t0, DeletedAt: &t0},
			EntityTypeID: "et-1",
			Name:         &name,
		}
		require.False(t, semanticEqual(deleted, base))
	})
}

func TestDedupeByID(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string, updatedAt time.Time, code string) Row {
		return &EntityType{
			RowMeta: RowMeta{ID: id, CreatedAt: t0, UpdatedAt: updatedAt},
			Code:    code, Name: code,
		}
	}

	rows := []Row{
		mk("a", t0, "old-a"),
		mk("b", t0, "only-b"),
		mk("a", t0.Add(time.Hour), "new-a"),
		mk("a", t0.Add(time.Minute), "mid-a"),
	}
	out := dedupeByID(rows)
	require.Len(t, out, 2)

	// First-seen order, newest version per id.
	require.Equal(t, "a", out[0].Meta().ID)
	require.Equal(t, "new-a", out[0].(*EntityType).Code)
	require.Equal(t, "b", out[1].Meta().ID)
}
