// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

// Package pgstore implements the matsync store on PostgreSQL via pgx.
package pgstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
)

// Store is the PostgreSQL-backed matsync.Store. Correctness under
// concurrent pushes relies on the conflict filter plus the database's own
// row locking; the store takes no application-level locks.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a store from an existing pool and initializes the schema.
// The pool lifecycle stays with the caller.
func New(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{pool: pool, logger: logger}

	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return s.initializeSchemaInTx(ctx, tx)
	})
	if err != nil {
		return nil, fmt.Errorf("initialize pgstore: %w", err)
	}
	return s, nil
}

// Pool returns the underlying connection pool for custom queries.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// WithTx implements matsync.Store. Batches run at REPEATABLE READ so the
// conflict and dependency gates see one consistent snapshot.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx matsync.Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadWrite}, func(tx pgx.Tx) error {
		// Bound lock waits so a stuck batch fails instead of queueing.
		_, _ = tx.Exec(ctx, "SET LOCAL lock_timeout = '3s'")
		return fn(ctx, &pgTx{tx: tx, logger: s.logger})
	})
}
