// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package memstore

import (
	"encoding/json"
	"time"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
)

// cloneRow deep-copies a row so callers mutating their copy never alias
// stored state.
func cloneRow(row matsync.Row) matsync.Row {
	switch r := row.(type) {
	case *matsync.EntityType:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		c.Description = cloneString(r.Description)
		return &c
	case *matsync.Entity:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		c.Name = cloneString(r.Name)
		return &c
	case *matsync.AttributeDef:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		c.SortOrder = cloneInt64(r.SortOrder)
		return &c
	case *matsync.AttributeValue:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		c.Value = cloneRaw(r.Value)
		return &c
	case *matsync.Operation:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		c.Details = cloneRaw(r.Details)
		return &c
	case *matsync.AuditLogEntry:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		c.Details = cloneString(r.Details)
		return &c
	case *matsync.ChatMessage:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		c.RecipientID = cloneString(r.RecipientID)
		return &c
	case *matsync.ChatRead:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		return &c
	case *matsync.Note:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		return &c
	case *matsync.NoteShare:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		return &c
	case *matsync.UserPresence:
		c := *r
		c.DeletedAt = cloneTime(r.DeletedAt)
		c.ServerSeq = cloneInt64(r.ServerSeq)
		return &c
	default:
		return row
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneInt64(n *int64) *int64 {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
