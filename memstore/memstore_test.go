// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package memstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
	"github.com/Valstan/MatricaRMZ-sub001/memstore"
)

var t0 = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func entityType(id, code string) *matsync.EntityType {
	return &matsync.EntityType{
		RowMeta: matsync.RowMeta{ID: id, CreatedAt: t0, UpdatedAt: t0},
		Code:    code, Name: code,
	}
}

func TestWithTxRollback(t *testing.T) {
	store := memstore.New()
	store.Seed(matsync.TableEntityTypes, entityType("et-1", "engine"))

	boom := errors.New("boom")
	err := store.WithTx(context.Background(), func(ctx context.Context, tx matsync.Tx) error {
		require.NoError(t, tx.UpsertRows(ctx, matsync.TableEntityTypes, []matsync.Row{
			entityType("et-2", "pump"),
		}))
		_, err := tx.AllocateSeq(ctx, 10)
		require.NoError(t, err)
		require.NoError(t, tx.InsertOwnerIfAbsent(ctx, &matsync.RowOwner{
			TableName: matsync.TableEntityTypes, RowID: "et-2",
			OwnerUserID: "u-1", OwnerUsername: "u", CreatedAt: t0,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Everything inside the failed transaction is gone.
	require.Nil(t, store.Row(matsync.TableEntityTypes, "et-2"))
	require.Nil(t, store.Owner(matsync.TableEntityTypes, "et-2"))
	require.NotNil(t, store.Row(matsync.TableEntityTypes, "et-1"))

	// Including the sequence allocation.
	err = store.WithTx(context.Background(), func(ctx context.Context, tx matsync.Tx) error {
		first, err := tx.AllocateSeq(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, int64(1), first)
		return nil
	})
	require.NoError(t, err)
}

func TestAllocateSeqBlocks(t *testing.T) {
	store := memstore.New()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx matsync.Tx) error {
		first, err := tx.AllocateSeq(ctx, 3)
		require.NoError(t, err)
		require.Equal(t, int64(1), first)

		first, err = tx.AllocateSeq(ctx, 2)
		require.NoError(t, err)
		require.Equal(t, int64(4), first)
		return nil
	})
	require.NoError(t, err)
}

func TestRowsAreCopies(t *testing.T) {
	store := memstore.New()
	store.Seed(matsync.TableEntityTypes, entityType("et-1", "engine"))

	err := store.WithTx(context.Background(), func(ctx context.Context, tx matsync.Tx) error {
		rows, err := tx.Rows(ctx, matsync.TableEntityTypes, []string{"et-1"})
		require.NoError(t, err)

		// Mutating the read copy must not leak into stored state.
		rows["et-1"].(*matsync.EntityType).Name = "mutated"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "engine", store.Row(matsync.TableEntityTypes, "et-1").(*matsync.EntityType).Name)
}

func TestLookups(t *testing.T) {
	store := memstore.New()
	deleted := t0.Add(time.Hour)
	dead := entityType("et-dead", "obsolete")
	dead.DeletedAt = &deleted
	store.Seed(matsync.TableEntityTypes, entityType("et-1", "engine"), dead)
	store.Seed(matsync.TableAttributeDefs, &matsync.AttributeDef{
		RowMeta:      matsync.RowMeta{ID: "def-1", CreatedAt: t0, UpdatedAt: t0},
		EntityTypeID: "et-1", Code: "serial", Name: "Serial", DataType: "string",
	})

	err := store.WithTx(context.Background(), func(ctx context.Context, tx matsync.Tx) error {
		t.Run("EntityTypesByCode skips tombstones", func(t *testing.T) {
			types, err := tx.EntityTypesByCode(ctx, []string{"engine", "obsolete", "missing"})
			require.NoError(t, err)
			require.Len(t, types, 1)
			require.Equal(t, "et-1", types[0].ID)
		})

		t.Run("AttributeDefsByKey matches the pair", func(t *testing.T) {
			defs, err := tx.AttributeDefsByKey(ctx, []matsync.AttributeDefKey{
				{EntityTypeID: "et-1", Code: "serial"},
				{EntityTypeID: "et-1", Code: "nope"},
			})
			require.NoError(t, err)
			require.Len(t, defs, 1)
			require.Equal(t, "def-1", defs[0].ID)
		})

		t.Run("ExistingIDs excludes tombstones", func(t *testing.T) {
			ids, err := tx.ExistingIDs(ctx, matsync.TableEntityTypes, []string{"et-1", "et-dead"})
			require.NoError(t, err)
			require.Contains(t, ids, "et-1")
			require.NotContains(t, ids, "et-dead")
		})

		t.Run("RowStates reports deletion and sequence", func(t *testing.T) {
			states, err := tx.RowStates(ctx, matsync.TableEntityTypes, []string{"et-dead"})
			require.NoError(t, err)
			require.True(t, states["et-dead"].Deleted)
			require.Nil(t, states["et-dead"].ServerSeq)
		})
		return nil
	})
	require.NoError(t, err)
}

func TestSyncStatePreservesPullWatermarks(t *testing.T) {
	store := memstore.New()
	pulled := t0.Add(-time.Hour)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx matsync.Tx) error {
		return tx.UpsertSyncState(ctx, &matsync.SyncState{
			ClientID: "c-1", UserID: "u-1", LastPushedAt: t0,
			LastPulledAt: &pulled, LastPulledServerSeq: 17,
		})
	})
	require.NoError(t, err)

	// A later push writes only the push side of the watermark.
	err = store.WithTx(context.Background(), func(ctx context.Context, tx matsync.Tx) error {
		return tx.UpsertSyncState(ctx, &matsync.SyncState{
			ClientID: "c-1", UserID: "u-1", LastPushedAt: t0.Add(time.Hour),
		})
	})
	require.NoError(t, err)

	st := store.SyncState("c-1")
	require.Equal(t, t0.Add(time.Hour), st.LastPushedAt)
	require.NotNil(t, st.LastPulledAt)
	require.Equal(t, int64(17), st.LastPulledServerSeq)
}
