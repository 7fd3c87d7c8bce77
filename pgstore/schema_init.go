// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// initializeSchemaInTx creates the matsync schema and every table the push
// engine writes, within an existing transaction.
func (s *Store) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS matsync`,

		// Business tables. Identifiers are client-generated strings; every
		// row carries the shared bookkeeping columns and is soft-deleted
		// via deleted_at, never hard-deleted by sync.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.entity_types (
			id          TEXT PRIMARY KEY,
			code        TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			deleted_at  TIMESTAMPTZ,
			server_seq  BIGINT,
			UNIQUE (code)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.entities (
			id             TEXT PRIMARY KEY,
			entity_type_id TEXT NOT NULL,
			name           TEXT,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			deleted_at     TIMESTAMPTZ,
			server_seq     BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS entities_type_idx ON matsync.entities(entity_type_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.attribute_defs (
			id             TEXT PRIMARY KEY,
			entity_type_id TEXT NOT NULL,
			code           TEXT NOT NULL,
			name           TEXT NOT NULL,
			data_type      TEXT NOT NULL,
			sort_order     BIGINT,
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL,
			deleted_at     TIMESTAMPTZ,
			server_seq     BIGINT,
			UNIQUE (entity_type_id, code)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.attribute_values (
			id               TEXT PRIMARY KEY,
			entity_id        TEXT NOT NULL,
			attribute_def_id TEXT NOT NULL,
			value            JSON,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			deleted_at       TIMESTAMPTZ,
			server_seq       BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS attribute_values_entity_idx ON matsync.attribute_values(entity_id, attribute_def_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.operations (
			id               TEXT PRIMARY KEY,
			engine_entity_id TEXT NOT NULL,
			operation_type   TEXT NOT NULL,
			details          JSON,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			deleted_at       TIMESTAMPTZ,
			server_seq       BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS operations_entity_idx ON matsync.operations(engine_entity_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.audit_log (
			id            TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			username      TEXT NOT NULL,
			action        TEXT NOT NULL,
			target_table  TEXT,
			target_row_id TEXT,
			details       TEXT,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			deleted_at    TIMESTAMPTZ,
			server_seq    BIGINT
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.chat_messages (
			id              TEXT PRIMARY KEY,
			sender_id       TEXT NOT NULL,
			sender_username TEXT NOT NULL,
			recipient_id    TEXT,
			body            TEXT NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL,
			deleted_at      TIMESTAMPTZ,
			server_seq      BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS chat_messages_recipient_idx ON matsync.chat_messages(recipient_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.chat_reads (
			id         TEXT PRIMARY KEY,
			message_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			read_at    TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			deleted_at TIMESTAMPTZ,
			server_seq BIGINT
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.notes (
			id            TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			title         TEXT NOT NULL,
			body          TEXT,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			deleted_at    TIMESTAMPTZ,
			server_seq    BIGINT
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.note_shares (
			id                TEXT PRIMARY KEY,
			note_id           TEXT NOT NULL,
			owner_user_id     TEXT NOT NULL,
			recipient_user_id TEXT NOT NULL,
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL,
			deleted_at        TIMESTAMPTZ,
			server_seq        BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS note_shares_note_idx ON matsync.note_shares(note_id, recipient_user_id)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.user_presence (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			username     TEXT NOT NULL,
			status       TEXT,
			last_seen_at TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			deleted_at   TIMESTAMPTZ,
			server_seq   BIGINT
		)`,

		// Ownership record: set once at row creation, immutable afterward.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.row_owners (
			table_name     TEXT NOT NULL,
			row_id         TEXT NOT NULL,
			owner_user_id  TEXT NOT NULL,
			owner_username TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (table_name, row_id)
		)`,

		// Pending proposals from non-owner edits, resolved out of band.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.change_requests (
			id                   TEXT PRIMARY KEY,
			target_table         TEXT NOT NULL,
			row_id               TEXT NOT NULL,
			proposed_by_id       TEXT NOT NULL,
			proposed_by_username TEXT NOT NULL,
			owner_user_id        TEXT NOT NULL,
			owner_username       TEXT NOT NULL,
			before               JSON,
			after                JSON NOT NULL,
			status               TEXT NOT NULL CHECK (status IN ('pending','approved','rejected')),
			created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS change_requests_status_idx ON matsync.change_requests(status, target_table)`,

		// Durable change log, ordered by the server sequence number.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.server_change_log (
			server_seq BIGINT PRIMARY KEY,
			table_name TEXT NOT NULL,
			row_id     TEXT NOT NULL,
			op         TEXT NOT NULL CHECK (op IN ('upsert','delete')),
			payload    JSON NOT NULL,
			client_id  TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			ts         TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS scl_row_idx ON matsync.server_change_log(table_name, row_id, server_seq)`,

		// One watermark row per client, mutated on every push.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.sync_state (
			client_id              TEXT PRIMARY KEY,
			user_id                TEXT NOT NULL,
			last_pushed_at         TIMESTAMPTZ,
			last_pulled_at         TIMESTAMPTZ,
			last_pulled_server_seq BIGINT NOT NULL DEFAULT 0
		)`,

		// Monotonic server sequence. A single-row counter updated with a
		// row lock hands out consecutive blocks per batch.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.seq_counter (
			singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
			value     BIGINT NOT NULL
		)`,
		`INSERT INTO matsync.seq_counter (singleton, value) VALUES (TRUE, 0) ON CONFLICT DO NOTHING`,

		// Per-batch skipped/dropped row snapshots for later inspection.
		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS matsync.sync_diagnostics (
			id         TEXT PRIMARY KEY,
			client_id  TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			dropped    JSON,
			skipped    JSON
		)`,
		`CREATE INDEX IF NOT EXISTS sync_diagnostics_client_idx ON matsync.sync_diagnostics(client_id, created_at)`,
	}

	for i, migration := range migrations {
		s.logger.Debug("Running schema migration", "step", i+1, "total", len(migrations))
		if _, err := tx.Exec(ctx, migration); err != nil {
			return fmt.Errorf("schema migration %d failed: %w", i+1, err)
		}
	}
	s.logger.Info("Push sync schema initialized", "migrations", len(migrations))
	return nil
}
