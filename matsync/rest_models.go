// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"encoding/json"
)

// REST/JSON models for the push API. The wire transport itself is plain
// JSON over whatever carrier the deployment uses; only the logical contract
// is fixed here.

// PushRequest is one client-submitted batch of upserted rows across one or
// more tables, applied atomically.
type PushRequest struct {
	ClientID string         `json:"client_id"`
	Upserts  []TableUpserts `json:"upserts"`
}

// TableUpserts groups the pushed rows of a single table. Rows stay raw until
// intake decodes them against the table's expected shape.
type TableUpserts struct {
	Table Table             `json:"table"`
	Rows  []json.RawMessage `json:"rows"`
}

// PushResponse reports how many rows the batch actually applied. Changes is
// populated only when the caller requested change collection.
type PushResponse struct {
	Applied int            `json:"applied"`
	Changes []ChangeRecord `json:"changes,omitempty"`
}

// ChangeRecord is one effective write relayed onward to connected clients.
type ChangeRecord struct {
	Table       Table           `json:"table"`
	RowID       string          `json:"row_id"`
	Op          string          `json:"op"`
	PayloadJSON json.RawMessage `json:"payload_json"`
}

// Actor is the authenticated caller identity. It is supplied by the identity
// layer, never by the pushed payload.
type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the actor bypasses per-row ownership checks.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Notification is one out-of-band message produced by a newly created
// directed chat message. A nil RecipientID means broadcast to every active
// user except the sender.
type Notification struct {
	MessageID      string  `json:"message_id"`
	SenderID       string  `json:"sender_id"`
	SenderUsername string  `json:"sender_username"`
	RecipientID    *string `json:"recipient_id,omitempty"`
	Body           string  `json:"body"`
}
