// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
	"github.com/Valstan/MatricaRMZ-sub001/memstore"
)

var (
	alice = matsync.Actor{ID: "user-alice", Username: "alice"}
	bob   = matsync.Actor{ID: "user-bob", Username: "bob"}
	root  = matsync.Actor{ID: "user-root", Username: "root", Role: matsync.RoleAdmin}

	baseTime = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store *memstore.Store, cfg *matsync.ServiceConfig, notifier matsync.Notifier) *matsync.Service {
	return matsync.NewService(store, cfg, notifier, testLogger())
}

func rawRow(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

// baseFields returns the bookkeeping columns every pushed row needs.
func baseFields(id string, updatedAt time.Time) map[string]any {
	return map[string]any{
		"id":         id,
		"created_at": updatedAt,
		"updated_at": updatedAt,
	}
}

func withFields(base map[string]any, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func pushOne(t *testing.T, svc *matsync.Service, actor matsync.Actor, policy matsync.SyncPolicy, table matsync.Table, rows ...json.RawMessage) (*matsync.PushResponse, error) {
	t.Helper()
	return svc.ProcessPush(context.Background(), actor, policy, &matsync.PushRequest{
		ClientID: "client-" + actor.ID,
		Upserts:  []matsync.TableUpserts{{Table: table, Rows: rows}},
	})
}

func seedEngine(store *memstore.Store, typeID, entityID string, owner matsync.Actor) {
	name := "diesel engine"
	store.Seed(matsync.TableEntityTypes, &matsync.EntityType{
		RowMeta: matsync.RowMeta{ID: typeID, CreatedAt: baseTime, UpdatedAt: baseTime},
		Code:    "engine",
		Name:    "Engine",
	})
	store.Seed(matsync.TableEntities, &matsync.Entity{
		RowMeta:      matsync.RowMeta{ID: entityID, CreatedAt: baseTime, UpdatedAt: baseTime},
		EntityTypeID: typeID,
		Name:         &name,
	})
	store.SeedOwner(&matsync.RowOwner{
		TableName:   matsync.TableEntities,
		RowID:       entityID,
		OwnerUserID: owner.ID, OwnerUsername: owner.Username,
		CreatedAt: baseTime,
	})
}

func TestProcessPushCreate(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	resp, err := svc.ProcessPush(context.Background(), alice, matsync.DefaultPolicy(), &matsync.PushRequest{
		ClientID: "client-1",
		Upserts: []matsync.TableUpserts{
			{Table: matsync.TableEntityTypes, Rows: []json.RawMessage{
				rawRow(t, withFields(baseFields("et-1", baseTime), map[string]any{
					"code": "engine", "name": "Engine",
				})),
			}},
			{Table: matsync.TableEntities, Rows: []json.RawMessage{
				rawRow(t, withFields(baseFields("e-1", baseTime), map[string]any{
					"entity_type_id": "et-1", "name": "YaMZ-238",
				})),
			}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Applied)

	t.Run("sequence numbers stamped in table order", func(t *testing.T) {
		et := store.Row(matsync.TableEntityTypes, "et-1")
		require.NotNil(t, et)
		require.NotNil(t, et.Meta().ServerSeq)
		require.Equal(t, int64(1), *et.Meta().ServerSeq)

		e := store.Row(matsync.TableEntities, "e-1")
		require.NotNil(t, e)
		require.NotNil(t, e.Meta().ServerSeq)
		require.Equal(t, int64(2), *e.Meta().ServerSeq)
	})

	t.Run("ownership recorded at creation", func(t *testing.T) {
		owner := store.Owner(matsync.TableEntities, "e-1")
		require.NotNil(t, owner)
		require.Equal(t, alice.ID, owner.OwnerUserID)
		require.Equal(t, alice.Username, owner.OwnerUsername)
	})

	t.Run("change log appended per write", func(t *testing.T) {
		log := store.ChangeLog()
		require.Len(t, log, 2)
		require.Equal(t, int64(1), log[0].ServerSeq)
		require.Equal(t, matsync.TableEntityTypes, log[0].TableName)
		require.Equal(t, matsync.OpUpsert, log[0].Op)
		require.Equal(t, "client-1", log[0].ClientID)
		require.Equal(t, alice.ID, log[0].UserID)
		require.Contains(t, string(log[1].Payload), `"server_seq":2`)
	})

	t.Run("sync state watermark updated", func(t *testing.T) {
		st := store.SyncState("client-1")
		require.NotNil(t, st)
		require.Equal(t, alice.ID, st.UserID)
		require.False(t, st.LastPushedAt.IsZero())
	})

	t.Run("actor heartbeat written", func(t *testing.T) {
		row := store.Row(matsync.TableUserPresence, alice.ID)
		require.NotNil(t, row)
		presence := row.(*matsync.UserPresence)
		require.Equal(t, alice.Username, presence.Username)
		require.Equal(t, "online", presence.Status)
	})
}

func TestProcessPushIdempotentRetry(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	row := rawRow(t, withFields(baseFields("et-1", baseTime), map[string]any{
		"code": "engine", "name": "Engine",
	}))

	_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntityTypes, row)
	require.NoError(t, err)

	// The retried batch re-applies cleanly: same row id, same content, and
	// ownership stays with the original creation.
	resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntityTypes, row)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Applied)
	require.Equal(t, 1, store.RowCount(matsync.TableEntityTypes))

	owner := store.Owner(matsync.TableEntityTypes, "et-1")
	require.NotNil(t, owner)
	require.Equal(t, alice.ID, owner.OwnerUserID)
	require.Empty(t, store.ChangeRequests())
}

func TestProcessPushIdentityRemap(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	// Client A created the "pump" category first.
	_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntityTypes,
		rawRow(t, withFields(baseFields("type-a", baseTime), map[string]any{
			"code": "pump", "name": "Pump",
		})))
	require.NoError(t, err)

	// Client B created the same category offline under its own random id and
	// hung an entity plus an attribute definition off it.
	resp, err := svc.ProcessPush(context.Background(), bob, matsync.DefaultPolicy(), &matsync.PushRequest{
		ClientID: "client-b",
		Upserts: []matsync.TableUpserts{
			{Table: matsync.TableEntityTypes, Rows: []json.RawMessage{
				rawRow(t, withFields(baseFields("type-b", baseTime.Add(time.Minute)), map[string]any{
					"code": "pump", "name": "Pump",
				})),
			}},
			{Table: matsync.TableEntities, Rows: []json.RawMessage{
				rawRow(t, withFields(baseFields("ent-b", baseTime.Add(time.Minute)), map[string]any{
					"entity_type_id": "type-b", "name": "NSh-32",
				})),
			}},
			{Table: matsync.TableAttributeDefs, Rows: []json.RawMessage{
				rawRow(t, withFields(baseFields("def-b", baseTime.Add(time.Minute)), map[string]any{
					"entity_type_id": "type-b", "code": "flow_rate", "name": "Flow rate", "data_type": "number",
				})),
			}},
		},
	})
	require.NoError(t, err)
	// The duplicate category collapses onto client A's row (touch-only after
	// the remap), so only the entity and the attribute def apply.
	require.Equal(t, 2, resp.Applied)

	// Both clients converge on one entity type row under client A's id.
	require.Equal(t, 1, store.RowCount(matsync.TableEntityTypes))
	require.Nil(t, store.Row(matsync.TableEntityTypes, "type-b"))

	e := store.Row(matsync.TableEntities, "ent-b").(*matsync.Entity)
	require.Equal(t, "type-a", e.EntityTypeID)

	def := store.Row(matsync.TableAttributeDefs, "def-b").(*matsync.AttributeDef)
	require.Equal(t, "type-a", def.EntityTypeID)
}

func TestProcessPushAttributeDefRemapPropagation(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	// Server already knows def "serial" under canonical ids.
	seedEngine(store, "type-1", "ent-1", alice)
	store.Seed(matsync.TableAttributeDefs, &matsync.AttributeDef{
		RowMeta:      matsync.RowMeta{ID: "def-canonical", CreatedAt: baseTime, UpdatedAt: baseTime},
		EntityTypeID: "type-1",
		Code:         "serial",
		Name:         "Serial number",
		DataType:     "string",
	})

	resp, err := svc.ProcessPush(context.Background(), alice, matsync.DefaultPolicy(), &matsync.PushRequest{
		ClientID: "client-a",
		Upserts: []matsync.TableUpserts{
			{Table: matsync.TableAttributeDefs, Rows: []json.RawMessage{
				rawRow(t, withFields(baseFields("def-local", baseTime.Add(time.Hour)), map[string]any{
					"entity_type_id": "type-1", "code": "serial", "name": "Serial", "data_type": "string",
				})),
			}},
			{Table: matsync.TableAttributeValues, Rows: []json.RawMessage{
				rawRow(t, withFields(baseFields("val-1", baseTime.Add(time.Hour)), map[string]any{
					"entity_id": "ent-1", "attribute_def_id": "def-local", "value": "X-100500",
				})),
			}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Applied)

	require.Nil(t, store.Row(matsync.TableAttributeDefs, "def-local"))
	val := store.Row(matsync.TableAttributeValues, "val-1").(*matsync.AttributeValue)
	require.Equal(t, "def-canonical", val.AttributeDefID)
}

func TestProcessPushConflicts(t *testing.T) {
	seed := func(store *memstore.Store, seq int64) {
		store.Seed(matsync.TableEntityTypes, &matsync.EntityType{
			RowMeta: matsync.RowMeta{
				ID: "et-1", CreatedAt: baseTime, UpdatedAt: baseTime.Add(time.Hour),
				ServerSeq: &seq,
			},
			Code: "engine", Name: "Engine v6",
		})
	}
	stale := func(t *testing.T) json.RawMessage {
		return rawRow(t, withFields(baseFields("et-1", baseTime.Add(2*time.Hour)), map[string]any{
			"code": "engine", "name": "Engine v5", "server_seq": 5,
		}))
	}

	t.Run("stale sequence rejects the batch", func(t *testing.T) {
		store := memstore.New()
		seed(store, 6)
		svc := newTestService(store, nil, nil)

		_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntityTypes, stale(t))
		var ce *matsync.ConflictError
		require.ErrorAs(t, err, &ce)
		require.Equal(t, matsync.TableEntityTypes, ce.Table)

		// Nothing committed, not even the heartbeat.
		require.Equal(t, "Engine v6", store.Row(matsync.TableEntityTypes, "et-1").(*matsync.EntityType).Name)
		require.Nil(t, store.Row(matsync.TableUserPresence, alice.ID))
	})

	t.Run("recovery mode drops stale rows and records them", func(t *testing.T) {
		store := memstore.New()
		seed(store, 6)
		svc := newTestService(store, nil, nil)

		resp, err := pushOne(t, svc, alice, matsync.RecoveryPolicy(), matsync.TableEntityTypes, stale(t))
		require.NoError(t, err)
		require.Equal(t, 0, resp.Applied)
		require.Equal(t, "Engine v6", store.Row(matsync.TableEntityTypes, "et-1").(*matsync.EntityType).Name)

		diags := store.Diagnostics()
		require.Len(t, diags, 1)
		require.Len(t, diags[0].Skipped, 1)
		require.Equal(t, matsync.SkipKindConflict, diags[0].Skipped[0].Kind)
		require.Equal(t, 1, diags[0].Skipped[0].Count)
	})

	t.Run("equal sequence means editing the seen version", func(t *testing.T) {
		store := memstore.New()
		seed(store, 5)
		svc := newTestService(store, nil, nil)

		resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntityTypes, stale(t))
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied)
		require.Equal(t, "Engine v5", store.Row(matsync.TableEntityTypes, "et-1").(*matsync.EntityType).Name)
	})

	t.Run("sequenced tombstone survives a sequence-less undelete", func(t *testing.T) {
		store := memstore.New()
		deletedAt := baseTime.Add(time.Hour)
		seq := int64(9)
		store.Seed(matsync.TableEntityTypes, &matsync.EntityType{
			RowMeta: matsync.RowMeta{
				ID: "et-1", CreatedAt: baseTime, UpdatedAt: deletedAt,
				DeletedAt: &deletedAt, ServerSeq: &seq,
			},
			Code: "engine", Name: "Engine",
		})
		svc := newTestService(store, nil, nil)

		// Newer wall clock, but no sequence: the client never saw the delete.
		_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntityTypes,
			rawRow(t, withFields(baseFields("et-1", baseTime.Add(3*time.Hour)), map[string]any{
				"code": "engine", "name": "Engine resurrected",
			})))
		var ce *matsync.ConflictError
		require.ErrorAs(t, err, &ce)
		require.True(t, store.Row(matsync.TableEntityTypes, "et-1").Meta().IsDeleted())
	})
}

func TestProcessPushDependencies(t *testing.T) {
	orphan := func(t *testing.T) json.RawMessage {
		return rawRow(t, withFields(baseFields("e-orphan", baseTime), map[string]any{
			"entity_type_id": "missing-type", "name": "orphan",
		}))
	}

	t.Run("lenient mode drops orphans and keeps the rest", func(t *testing.T) {
		store := memstore.New()
		svc := newTestService(store, nil, nil)

		resp, err := svc.ProcessPush(context.Background(), alice, matsync.DefaultPolicy(), &matsync.PushRequest{
			ClientID: "client-1",
			Upserts: []matsync.TableUpserts{
				{Table: matsync.TableEntityTypes, Rows: []json.RawMessage{
					rawRow(t, withFields(baseFields("et-1", baseTime), map[string]any{
						"code": "engine", "name": "Engine",
					})),
				}},
				{Table: matsync.TableEntities, Rows: []json.RawMessage{
					orphan(t),
					rawRow(t, withFields(baseFields("e-good", baseTime), map[string]any{
						"entity_type_id": "et-1", "name": "good",
					})),
				}},
			},
		})
		require.NoError(t, err)
		require.Equal(t, 2, resp.Applied)
		require.Nil(t, store.Row(matsync.TableEntities, "e-orphan"))
		require.NotNil(t, store.Row(matsync.TableEntities, "e-good"))

		diags := store.Diagnostics()
		require.Len(t, diags, 1)
		require.Equal(t, matsync.SkipKindDependency, diags[0].Skipped[0].Kind)
		require.Equal(t, "entities.entity_type_id", diags[0].Skipped[0].Dependency)
	})

	t.Run("strict mode fails the batch", func(t *testing.T) {
		store := memstore.New()
		svc := newTestService(store, nil, nil)

		_, err := pushOne(t, svc, alice, matsync.SyncPolicy{StrictDependencies: true},
			matsync.TableEntities, orphan(t))
		var de *matsync.DependencyError
		require.ErrorAs(t, err, &de)
		require.Equal(t, "entities.entity_type_id", de.Dependency)
	})

	t.Run("tombstoned parent in the same batch does not satisfy", func(t *testing.T) {
		store := memstore.New()
		svc := newTestService(store, nil, nil)

		resp, err := svc.ProcessPush(context.Background(), alice, matsync.DefaultPolicy(), &matsync.PushRequest{
			ClientID: "client-1",
			Upserts: []matsync.TableUpserts{
				{Table: matsync.TableEntityTypes, Rows: []json.RawMessage{
					rawRow(t, withFields(withFields(baseFields("et-dead", baseTime), map[string]any{
						"code": "dead", "name": "Dead",
					}), map[string]any{"deleted_at": baseTime})),
				}},
				{Table: matsync.TableEntities, Rows: []json.RawMessage{
					rawRow(t, withFields(baseFields("e-1", baseTime), map[string]any{
						"entity_type_id": "et-dead",
					})),
				}},
			},
		})
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied) // the tombstone only
		require.Nil(t, store.Row(matsync.TableEntities, "e-1"))
	})

	t.Run("unknown chat recipient is fatal even in lenient mode", func(t *testing.T) {
		store := memstore.New()
		svc := newTestService(store, nil, nil)

		_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableChatMessages,
			rawRow(t, withFields(baseFields("msg-1", baseTime), map[string]any{
				"body": "hello?", "recipient_id": "ghost",
			})))
		var de *matsync.DependencyError
		require.ErrorAs(t, err, &de)
		require.Equal(t, "chat_messages.recipient_id", de.Dependency)
	})
}

func TestProcessPushOwnershipGate(t *testing.T) {
	entityUpdate := func(t *testing.T, name string) json.RawMessage {
		return rawRow(t, withFields(baseFields("ent-1", baseTime.Add(time.Hour)), map[string]any{
			"entity_type_id": "type-1", "name": name,
		}))
	}

	t.Run("non-owner edit becomes a pending change request", func(t *testing.T) {
		store := memstore.New()
		seedEngine(store, "type-1", "ent-1", alice)
		svc := newTestService(store, nil, nil)

		resp, err := pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableEntities,
			entityUpdate(t, "renamed by bob"))
		require.NoError(t, err)
		require.Equal(t, 0, resp.Applied)

		// The row is untouched; the proposal captured both versions.
		e := store.Row(matsync.TableEntities, "ent-1").(*matsync.Entity)
		require.Equal(t, "diesel engine", *e.Name)

		crs := store.ChangeRequests()
		require.Len(t, crs, 1)
		cr := crs[0]
		require.Equal(t, matsync.ChangeRequestPending, cr.Status)
		require.Equal(t, matsync.TableEntities, cr.TargetTable)
		require.Equal(t, "ent-1", cr.RowID)
		require.Equal(t, bob.ID, cr.ProposedByID)
		require.Equal(t, alice.ID, cr.OwnerUserID)
		require.Contains(t, string(cr.Before), "diesel engine")
		require.Contains(t, string(cr.After), "renamed by bob")
	})

	t.Run("owner and admin write directly", func(t *testing.T) {
		store := memstore.New()
		seedEngine(store, "type-1", "ent-1", alice)
		svc := newTestService(store, nil, nil)

		resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntities,
			entityUpdate(t, "renamed by owner"))
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied)

		resp, err = pushOne(t, svc, root, matsync.DefaultPolicy(), matsync.TableEntities,
			rawRow(t, withFields(baseFields("ent-1", baseTime.Add(2*time.Hour)), map[string]any{
				"entity_type_id": "type-1", "name": "renamed by admin",
			})))
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied)
		require.Empty(t, store.ChangeRequests())
	})

	t.Run("trusted writer policy applies foreign edits directly", func(t *testing.T) {
		store := memstore.New()
		seedEngine(store, "type-1", "ent-1", alice)
		svc := newTestService(store, &matsync.ServiceConfig{
			AppName:       "test",
			Authorization: matsync.AuthTrustedWriter,
		}, nil)

		resp, err := pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableEntities,
			entityUpdate(t, "trusted bob"))
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied)
		require.Equal(t, "trusted bob", *store.Row(matsync.TableEntities, "ent-1").(*matsync.Entity).Name)
		require.Empty(t, store.ChangeRequests())
	})

	t.Run("touch-only foreign update is skipped quietly", func(t *testing.T) {
		store := memstore.New()
		seedEngine(store, "type-1", "ent-1", alice)
		svc := newTestService(store, nil, nil)

		// Same content, only updated_at differs.
		resp, err := pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableEntities,
			entityUpdate(t, "diesel engine"))
		require.NoError(t, err)
		require.Equal(t, 0, resp.Applied)
		require.Empty(t, store.ChangeRequests())
		require.Equal(t, baseTime, store.Row(matsync.TableEntities, "ent-1").Meta().UpdatedAt)
	})

	t.Run("attribute values inherit the entity owner", func(t *testing.T) {
		store := memstore.New()
		seedEngine(store, "type-1", "ent-1", alice)
		store.Seed(matsync.TableAttributeDefs, &matsync.AttributeDef{
			RowMeta:      matsync.RowMeta{ID: "def-1", CreatedAt: baseTime, UpdatedAt: baseTime},
			EntityTypeID: "type-1", Code: "hours", Name: "Hours", DataType: "number",
		})
		store.Seed(matsync.TableAttributeValues, &matsync.AttributeValue{
			RowMeta:  matsync.RowMeta{ID: "val-1", CreatedAt: baseTime, UpdatedAt: baseTime},
			EntityID: "ent-1", AttributeDefID: "def-1", Value: json.RawMessage(`100`),
		})
		svc := newTestService(store, nil, nil)

		resp, err := pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableAttributeValues,
			rawRow(t, withFields(baseFields("val-1", baseTime.Add(time.Hour)), map[string]any{
				"entity_id": "ent-1", "attribute_def_id": "def-1", "value": 250,
			})))
		require.NoError(t, err)
		require.Equal(t, 0, resp.Applied)

		crs := store.ChangeRequests()
		require.Len(t, crs, 1)
		require.Equal(t, alice.ID, crs[0].OwnerUserID)
	})
}

func TestProcessPushNotesAndShares(t *testing.T) {
	seedNote := func(store *memstore.Store) {
		store.Seed(matsync.TableNotes, &matsync.Note{
			RowMeta:     matsync.RowMeta{ID: "note-1", CreatedAt: baseTime, UpdatedAt: baseTime},
			OwnerUserID: alice.ID, Title: "maintenance plan",
		})
		store.SeedOwner(&matsync.RowOwner{
			TableName: matsync.TableNotes, RowID: "note-1",
			OwnerUserID: alice.ID, OwnerUsername: alice.Username, CreatedAt: baseTime,
		})
		store.Seed(matsync.TableUserPresence, &matsync.UserPresence{
			RowMeta: matsync.RowMeta{ID: bob.ID, CreatedAt: baseTime, UpdatedAt: baseTime},
			UserID:  bob.ID, Username: bob.Username, LastSeenAt: baseTime,
		})
	}

	t.Run("foreign note edit is a hard deny and aborts the batch", func(t *testing.T) {
		store := memstore.New()
		seedNote(store)
		svc := newTestService(store, nil, nil)

		_, err := svc.ProcessPush(context.Background(), bob, matsync.DefaultPolicy(), &matsync.PushRequest{
			ClientID: "client-b",
			Upserts: []matsync.TableUpserts{
				// A perfectly valid row in the same batch must not survive.
				{Table: matsync.TableEntityTypes, Rows: []json.RawMessage{
					rawRow(t, withFields(baseFields("et-new", baseTime), map[string]any{
						"code": "pump", "name": "Pump",
					})),
				}},
				{Table: matsync.TableNotes, Rows: []json.RawMessage{
					rawRow(t, withFields(baseFields("note-1", baseTime.Add(time.Hour)), map[string]any{
						"title": "hijacked",
					})),
				}},
			},
		})
		var pe *matsync.PolicyDeniedError
		require.ErrorAs(t, err, &pe)
		require.Nil(t, store.Row(matsync.TableEntityTypes, "et-new"))
		require.Equal(t, "maintenance plan", store.Row(matsync.TableNotes, "note-1").(*matsync.Note).Title)
	})

	t.Run("note owner shares with a known user", func(t *testing.T) {
		store := memstore.New()
		seedNote(store)
		svc := newTestService(store, nil, nil)

		resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableNoteShares,
			rawRow(t, withFields(baseFields("share-1", baseTime), map[string]any{
				"note_id": "note-1", "recipient_user_id": bob.ID,
			})))
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied)

		share := store.Row(matsync.TableNoteShares, "share-1").(*matsync.NoteShare)
		require.Equal(t, alice.ID, share.OwnerUserID)
	})

	t.Run("recipient cannot self-grant a share", func(t *testing.T) {
		store := memstore.New()
		seedNote(store)
		svc := newTestService(store, nil, nil)

		_, err := pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableNoteShares,
			rawRow(t, withFields(baseFields("share-x", baseTime), map[string]any{
				"note_id": "note-1", "recipient_user_id": bob.ID,
			})))
		var pe *matsync.PolicyDeniedError
		require.ErrorAs(t, err, &pe)
	})

	t.Run("recipient with an existing share may recreate it", func(t *testing.T) {
		store := memstore.New()
		seedNote(store)
		store.Seed(matsync.TableNoteShares, &matsync.NoteShare{
			RowMeta: matsync.RowMeta{ID: "share-0", CreatedAt: baseTime, UpdatedAt: baseTime},
			NoteID:  "note-1", OwnerUserID: alice.ID, RecipientUserID: bob.ID,
		})
		svc := newTestService(store, nil, nil)

		resp, err := pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableNoteShares,
			rawRow(t, withFields(baseFields("share-dup", baseTime.Add(time.Minute)), map[string]any{
				"note_id": "note-1", "recipient_user_id": bob.ID,
			})))
		require.NoError(t, err)
		require.Equal(t, 1, resp.Applied)
	})
}

func TestProcessPushChatStamping(t *testing.T) {
	store := memstore.New()
	store.Seed(matsync.TableUserPresence, &matsync.UserPresence{
		RowMeta: matsync.RowMeta{ID: bob.ID, CreatedAt: baseTime, UpdatedAt: baseTime},
		UserID:  bob.ID, Username: bob.Username, LastSeenAt: baseTime,
	})
	svc := newTestService(store, nil, nil)

	// The pushed sender fields lie; the server stamps the acting identity.
	resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableChatMessages,
		rawRow(t, withFields(baseFields("msg-1", baseTime), map[string]any{
			"body":            "the pump is fixed",
			"recipient_id":    bob.ID,
			"sender_id":       "someone-else",
			"sender_username": "mallory",
		})))
	require.NoError(t, err)
	require.Equal(t, 1, resp.Applied)

	msg := store.Row(matsync.TableChatMessages, "msg-1").(*matsync.ChatMessage)
	require.Equal(t, alice.ID, msg.SenderID)
	require.Equal(t, alice.Username, msg.SenderUsername)

	// A foreign edit of the stored message is a hard deny.
	_, err = pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableChatMessages,
		rawRow(t, withFields(baseFields("msg-1", baseTime.Add(time.Hour)), map[string]any{
			"body": "edited by recipient",
		})))
	var pe *matsync.PolicyDeniedError
	require.ErrorAs(t, err, &pe)
}

func TestProcessPushNotifications(t *testing.T) {
	type delivery struct {
		recipients   []string
		notification *matsync.Notification
	}

	t.Run("directed message notifies its recipient after commit", func(t *testing.T) {
		store := memstore.New()
		store.Seed(matsync.TableUserPresence, &matsync.UserPresence{
			RowMeta: matsync.RowMeta{ID: bob.ID, CreatedAt: baseTime, UpdatedAt: baseTime},
			UserID:  bob.ID, Username: bob.Username, LastSeenAt: baseTime,
		})
		var got []delivery
		svc := newTestService(store, nil, matsync.NotifierFunc(
			func(ctx context.Context, recipients []string, n *matsync.Notification) error {
				got = append(got, delivery{recipients: recipients, notification: n})
				return nil
			}))

		_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableChatMessages,
			rawRow(t, withFields(baseFields("msg-1", baseTime), map[string]any{
				"body": "ping", "recipient_id": bob.ID,
			})))
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, []string{bob.ID}, got[0].recipients)
		require.Equal(t, "msg-1", got[0].notification.MessageID)
		require.Equal(t, alice.ID, got[0].notification.SenderID)
	})

	t.Run("broadcast fans out to everyone but the sender", func(t *testing.T) {
		store := memstore.New()
		store.Seed(matsync.TableUserPresence,
			&matsync.UserPresence{
				RowMeta: matsync.RowMeta{ID: bob.ID, CreatedAt: baseTime, UpdatedAt: baseTime},
				UserID:  bob.ID, Username: bob.Username, LastSeenAt: baseTime,
			},
			&matsync.UserPresence{
				RowMeta: matsync.RowMeta{ID: root.ID, CreatedAt: baseTime, UpdatedAt: baseTime},
				UserID:  root.ID, Username: root.Username, LastSeenAt: baseTime,
			})
		var got []delivery
		svc := newTestService(store, nil, matsync.NotifierFunc(
			func(ctx context.Context, recipients []string, n *matsync.Notification) error {
				got = append(got, delivery{recipients: recipients, notification: n})
				return nil
			}))

		_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableChatMessages,
			rawRow(t, withFields(baseFields("msg-all", baseTime), map[string]any{
				"body": "shift change at 16:00",
			})))
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.ElementsMatch(t, []string{bob.ID, root.ID}, got[0].recipients)
		require.NotContains(t, got[0].recipients, alice.ID)
	})

	t.Run("retried message does not notify twice", func(t *testing.T) {
		store := memstore.New()
		store.Seed(matsync.TableUserPresence, &matsync.UserPresence{
			RowMeta: matsync.RowMeta{ID: bob.ID, CreatedAt: baseTime, UpdatedAt: baseTime},
			UserID:  bob.ID, Username: bob.Username, LastSeenAt: baseTime,
		})
		calls := 0
		svc := newTestService(store, nil, matsync.NotifierFunc(
			func(ctx context.Context, recipients []string, n *matsync.Notification) error {
				calls++
				return nil
			}))

		row := rawRow(t, withFields(baseFields("msg-1", baseTime), map[string]any{
			"body": "ping", "recipient_id": bob.ID,
		}))
		_, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableChatMessages, row)
		require.NoError(t, err)
		_, err = pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableChatMessages, row)
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})
}

func TestProcessPushPresenceNeverTrusted(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableUserPresence,
		rawRow(t, withFields(baseFields(bob.ID, baseTime), map[string]any{
			"user_id": bob.ID, "username": "fake-bob", "status": "online",
		})))
	require.NoError(t, err)
	require.Equal(t, 0, resp.Applied)

	// The forged row is gone; only the actor's server-written heartbeat lands.
	require.Nil(t, store.Row(matsync.TableUserPresence, bob.ID))
	require.NotNil(t, store.Row(matsync.TableUserPresence, alice.ID))
}

func TestProcessPushSupplyContainer(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	// A supply request with no engine scope lives in the singleton container,
	// which is provisioned on first reference.
	resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableOperations,
		rawRow(t, withFields(baseFields("op-1", baseTime), map[string]any{
			"operation_type": matsync.OperationTypeSupplyRequest,
			"details":        map[string]any{"item": "oil filter", "qty": 4},
		})))
	require.NoError(t, err)
	require.Equal(t, 1, resp.Applied)

	op := store.Row(matsync.TableOperations, "op-1").(*matsync.Operation)
	require.Equal(t, matsync.SupplyContainerEntityID, op.EngineEntityID)

	ct := store.Row(matsync.TableEntityTypes, matsync.SupplyContainerTypeID)
	require.NotNil(t, ct)
	require.Equal(t, matsync.SupplyContainerTypeCode, ct.(*matsync.EntityType).Code)
	require.NotNil(t, store.Row(matsync.TableEntities, matsync.SupplyContainerEntityID))

	// Re-pushing keeps the container singular.
	_, err = pushOne(t, svc, bob, matsync.DefaultPolicy(), matsync.TableOperations,
		rawRow(t, withFields(baseFields("op-2", baseTime), map[string]any{
			"operation_type": matsync.OperationTypeSupplyRequest,
		})))
	require.NoError(t, err)
	require.Equal(t, 1, store.RowCount(matsync.TableEntityTypes)) // still just the container
}

func TestProcessPushCollectChanges(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	policy := matsync.DefaultPolicy()
	policy.CollectChanges = true
	resp, err := pushOne(t, svc, alice, policy, matsync.TableEntityTypes,
		rawRow(t, withFields(baseFields("et-1", baseTime), map[string]any{
			"code": "engine", "name": "Engine",
		})))
	require.NoError(t, err)
	require.Len(t, resp.Changes, 1)

	change := resp.Changes[0]
	require.Equal(t, matsync.TableEntityTypes, change.Table)
	require.Equal(t, "et-1", change.RowID)
	require.Equal(t, matsync.OpUpsert, change.Op)
	// The relayed payload carries the assigned sequence number.
	require.Contains(t, string(change.PayloadJSON), `"server_seq":1`)
}

func TestProcessPushDeleteOp(t *testing.T) {
	store := memstore.New()
	seedEngine(store, "type-1", "ent-1", alice)
	svc := newTestService(store, nil, nil)

	deletedAt := baseTime.Add(time.Hour)
	resp, err := pushOne(t, svc, alice, matsync.DefaultPolicy(), matsync.TableEntities,
		rawRow(t, withFields(baseFields("ent-1", deletedAt), map[string]any{
			"entity_type_id": "type-1", "deleted_at": deletedAt,
		})))
	require.NoError(t, err)
	require.Equal(t, 1, resp.Applied)

	require.True(t, store.Row(matsync.TableEntities, "ent-1").Meta().IsDeleted())
	log := store.ChangeLog()
	require.Len(t, log, 1)
	require.Equal(t, matsync.OpDelete, log[0].Op)
}

func TestProcessPushInvalidRows(t *testing.T) {
	store := memstore.New()
	svc := newTestService(store, nil, nil)

	resp, err := svc.ProcessPush(context.Background(), alice, matsync.DefaultPolicy(), &matsync.PushRequest{
		ClientID: "client-1",
		Upserts: []matsync.TableUpserts{
			{Table: "no_such_table", Rows: []json.RawMessage{
				rawRow(t, baseFields("x-1", baseTime)),
			}},
			{Table: matsync.TableEntityTypes, Rows: []json.RawMessage{
				rawRow(t, baseFields("et-bad", baseTime)), // missing code and name
				rawRow(t, withFields(baseFields("et-good", baseTime), map[string]any{
					"code": "engine", "name": "Engine",
				})),
			}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Applied)
	require.Nil(t, store.Row(matsync.TableEntityTypes, "et-bad"))
	require.NotNil(t, store.Row(matsync.TableEntityTypes, "et-good"))

	diags := store.Diagnostics()
	require.Len(t, diags, 1)
	require.Len(t, diags[0].Dropped, 2)
}

func TestProcessPushValidation(t *testing.T) {
	svc := newTestService(memstore.New(), nil, nil)

	_, err := svc.ProcessPush(context.Background(), alice, matsync.DefaultPolicy(), &matsync.PushRequest{})
	require.ErrorIs(t, err, matsync.ErrMissingClientID)

	_, err = svc.ProcessPush(context.Background(), matsync.Actor{}, matsync.DefaultPolicy(), &matsync.PushRequest{
		ClientID: "client-1",
	})
	require.Error(t, err)
}
