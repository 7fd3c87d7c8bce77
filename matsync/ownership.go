// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// pendingEffects accumulates the batch's deferred side effects. Owner grants
// are flushed inside the same transaction by the writer; notifications are
// delivered strictly after commit.
type pendingEffects struct {
	OwnerGrants    []*RowOwner
	ChangeRequests []*ChangeRequest
	Notifications  []*Notification
}

// authorizeWrites applies the per-row ownership rules. Rows the actor may
// write stay in the batch; edits to rows owned by someone else are diverted
// into pending change requests (strict-ownership policy) or applied
// directly (trusted-writer policy). Chat and note violations are hard
// denies that abort the whole batch.
func authorizeWrites(
	ctx context.Context,
	tx Tx,
	logger *slog.Logger,
	batch *intakeBatch,
	actor Actor,
	authPolicy AuthorizationPolicy,
	effects *pendingEffects,
) error {
	// Entity owners are consulted by attribute values and generic
	// operations, which inherit authorization from their parent entity.
	entityOwners, err := parentEntityOwners(ctx, tx, batch)
	if err != nil {
		return err
	}

	for _, table := range TableOrder {
		rows := batch.rows(table)
		if len(rows) == 0 {
			continue
		}

		// Pushed presence payloads are never trusted; the heartbeat for the
		// acting user is written by the server itself.
		if table == TableUserPresence {
			logger.Debug("Ignoring pushed presence rows", "count", len(rows))
			batch.setRows(table, nil)
			continue
		}

		ids := make([]string, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.Meta().ID)
		}
		owners, err := tx.Owners(ctx, table, ids)
		if err != nil {
			return fmt.Errorf("load owners %s: %w", table, err)
		}
		stored, err := tx.Rows(ctx, table, ids)
		if err != nil {
			return fmt.Errorf("load rows %s: %w", table, err)
		}

		kept := rows[:0]
		diverted := 0
		touched := 0
		for _, row := range rows {
			decision, err := authorizeRow(ctx, tx, batch, actor, authPolicy, row, owners, stored, entityOwners, effects)
			if err != nil {
				return err
			}
			switch decision {
			case writeDirect:
				kept = append(kept, row)
			case writeDiverted:
				diverted++
			case writeSkipped:
				touched++
			}
		}
		if diverted > 0 || touched > 0 {
			logger.Info("Ownership gate diverted rows",
				"table", table, "change_requests", diverted, "touch_only_skipped", touched,
				"user_id", actor.ID)
		}
		batch.setRows(table, kept)
	}
	return nil
}

type writeDecision int

const (
	writeDirect writeDecision = iota
	writeDiverted
	writeSkipped
)

func authorizeRow(
	ctx context.Context,
	tx Tx,
	batch *intakeBatch,
	actor Actor,
	authPolicy AuthorizationPolicy,
	row Row,
	owners map[string]*RowOwner,
	stored map[string]Row,
	entityOwners map[string]*RowOwner,
	effects *pendingEffects,
) (writeDecision, error) {
	m := row.Meta()
	before, exists := stored[m.ID]
	owner := owners[m.ID]
	isCreate := !exists && owner == nil

	switch r := row.(type) {
	case *ChatMessage:
		// Sender fields are server-stamped on every write.
		if !isCreate {
			prev, _ := before.(*ChatMessage)
			senderID := r.SenderID
			if prev != nil {
				senderID = prev.SenderID
			} else if owner != nil {
				senderID = owner.OwnerUserID
			}
			if senderID != actor.ID && !actor.IsAdmin() {
				return 0, &PolicyDeniedError{Reason: fmt.Sprintf("chat message %s does not belong to sender %s", m.ID, actor.Username)}
			}
			r.SenderID = senderID
			if prev != nil {
				r.SenderUsername = prev.SenderUsername
			}
			return writeDirect, nil
		}
		r.SenderID = actor.ID
		r.SenderUsername = actor.Username
		grantOwner(effects, row, actor)
		if !m.IsDeleted() {
			effects.Notifications = append(effects.Notifications, &Notification{
				MessageID:      m.ID,
				SenderID:       r.SenderID,
				SenderUsername: r.SenderUsername,
				RecipientID:    r.RecipientID,
				Body:           r.Body,
			})
		}
		return writeDirect, nil

	case *Note:
		if isCreate {
			r.OwnerUserID = actor.ID
			grantOwner(effects, row, actor)
			return writeDirect, nil
		}
		if actor.IsAdmin() || (owner != nil && owner.OwnerUserID == actor.ID) {
			if prev, ok := before.(*Note); ok {
				r.OwnerUserID = prev.OwnerUserID
			}
			return writeDirect, nil
		}
		return 0, &PolicyDeniedError{Reason: fmt.Sprintf("note %s is not owned by %s", m.ID, actor.Username)}

	case *NoteShare:
		return authorizeNoteShare(ctx, tx, batch, actor, r, owner, isCreate, effects)

	case *ChatRead:
		if isCreate {
			r.UserID = actor.ID
			grantOwner(effects, row, actor)
			return writeDirect, nil
		}
		if actor.IsAdmin() || (owner != nil && owner.OwnerUserID == actor.ID) {
			return writeDirect, nil
		}
		// Read markers are bookkeeping; foreign updates are dropped quietly.
		return writeSkipped, nil

	case *AuditLogEntry:
		if isCreate {
			r.UserID = actor.ID
			r.Username = actor.Username
			grantOwner(effects, row, actor)
			return writeDirect, nil
		}
		// The audit log is append-only for everyone but administrators.
		if actor.IsAdmin() {
			return writeDirect, nil
		}
		return writeSkipped, nil

	default:
		// Generic typed-entity rows and operations.
		if isCreate {
			grantOwner(effects, row, actor)
			return writeDirect, nil
		}

		effective := effectiveOwner(row, owner, entityOwners)
		if actor.IsAdmin() || effective == nil || effective.OwnerUserID == actor.ID {
			return writeDirect, nil
		}

		// Touch-only updates change nothing reviewers would care about.
		if before != nil && semanticEqual(row, before) {
			return writeSkipped, nil
		}

		if authPolicy == AuthTrustedWriter {
			return writeDirect, nil
		}

		effects.ChangeRequests = append(effects.ChangeRequests, &ChangeRequest{
			ID:                 uuid.NewString(),
			TargetTable:        row.Table(),
			RowID:              m.ID,
			ProposedByID:       actor.ID,
			ProposedByUsername: actor.Username,
			OwnerUserID:        effective.OwnerUserID,
			OwnerUsername:      effective.OwnerUsername,
			Before:             marshalOrNil(before),
			After:              MarshalRow(row),
			Status:             ChangeRequestPending,
			CreatedAt:          time.Now().UTC(),
		})
		return writeDiverted, nil
	}
}

// authorizeNoteShare enforces the owner-or-recipient rule. A recipient
// creating a share for themselves must already hold some share on the note;
// otherwise any user could self-grant access.
func authorizeNoteShare(
	ctx context.Context,
	tx Tx,
	batch *intakeBatch,
	actor Actor,
	share *NoteShare,
	owner *RowOwner,
	isCreate bool,
	effects *pendingEffects,
) (writeDecision, error) {
	noteOwnerID := noteOwnerFor(ctx, tx, batch, share.NoteID)

	if isCreate {
		if actor.IsAdmin() || actor.ID == noteOwnerID {
			share.OwnerUserID = noteOwnerID
			grantOwner(effects, share, actor)
			return writeDirect, nil
		}
		if actor.ID == share.RecipientUserID {
			already, err := tx.NoteShareExists(ctx, share.NoteID, actor.ID)
			if err != nil {
				return 0, fmt.Errorf("note share lookup: %w", err)
			}
			if already {
				share.OwnerUserID = noteOwnerID
				grantOwner(effects, share, actor)
				return writeDirect, nil
			}
		}
		return 0, &PolicyDeniedError{Reason: fmt.Sprintf("user %s may not create a share on note %s", actor.Username, share.NoteID)}
	}

	ownerMatch := owner != nil && owner.OwnerUserID == actor.ID
	if actor.IsAdmin() || ownerMatch || actor.ID == share.RecipientUserID || actor.ID == noteOwnerID {
		return writeDirect, nil
	}
	return 0, &PolicyDeniedError{Reason: fmt.Sprintf("user %s may not modify share %s", actor.Username, share.ID)}
}

// effectiveOwner resolves which owner record authorizes an update.
// Attribute values inherit their parent entity's owner; generic operations
// inherit the owning engine entity's owner; supply requests and everything
// else use their own row's owner.
func effectiveOwner(row Row, own *RowOwner, entityOwners map[string]*RowOwner) *RowOwner {
	switch r := row.(type) {
	case *AttributeValue:
		if parent := entityOwners[r.EntityID]; parent != nil {
			return parent
		}
		return own
	case *Operation:
		if r.OperationType == OperationTypeSupplyRequest {
			return own
		}
		if parent := entityOwners[r.EngineEntityID]; parent != nil {
			return parent
		}
		return own
	default:
		return own
	}
}

// parentEntityOwners loads the owners of every entity referenced by the
// batch's attribute values and operations in one round-trip.
func parentEntityOwners(ctx context.Context, tx Tx, batch *intakeBatch) (map[string]*RowOwner, error) {
	refs := make(map[string]struct{})
	for _, row := range batch.rows(TableAttributeValues) {
		refs[row.(*AttributeValue).EntityID] = struct{}{}
	}
	for _, row := range batch.rows(TableOperations) {
		op := row.(*Operation)
		if op.OperationType != OperationTypeSupplyRequest {
			refs[op.EngineEntityID] = struct{}{}
		}
	}
	if len(refs) == 0 {
		return map[string]*RowOwner{}, nil
	}
	ids := make([]string, 0, len(refs))
	for id := range refs {
		ids = append(ids, id)
	}
	owners, err := tx.Owners(ctx, TableEntities, ids)
	if err != nil {
		return nil, fmt.Errorf("load entity owners: %w", err)
	}
	return owners, nil
}

// noteOwnerFor resolves a note's owner from the owner table or, for notes
// arriving in the same batch, from the already-stamped note row.
func noteOwnerFor(ctx context.Context, tx Tx, batch *intakeBatch, noteID string) string {
	owners, err := tx.Owners(ctx, TableNotes, []string{noteID})
	if err == nil {
		if owner := owners[noteID]; owner != nil {
			return owner.OwnerUserID
		}
	}
	for _, row := range batch.rows(TableNotes) {
		if note := row.(*Note); note.ID == noteID {
			return note.OwnerUserID
		}
	}
	return ""
}

func grantOwner(effects *pendingEffects, row Row, actor Actor) {
	effects.OwnerGrants = append(effects.OwnerGrants, &RowOwner{
		TableName:     row.Table(),
		RowID:         row.Meta().ID,
		OwnerUserID:   actor.ID,
		OwnerUsername: actor.Username,
		CreatedAt:     time.Now().UTC(),
	})
}

func marshalOrNil(row Row) []byte {
	if row == nil {
		return nil
	}
	return MarshalRow(row)
}
