// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
	"fmt"
	"log/slog"
)

// ServiceConfig holds process-level configuration for the push service.
// Per-batch behavior (strict dependencies, conflict leniency, change
// collection) travels in the SyncPolicy argument instead, so tests and
// replay jobs can vary it per call.
type ServiceConfig struct {
	AppName       string
	Authorization AuthorizationPolicy
}

// Service is the offline-first push-synchronization engine. It accepts a
// batch of rows produced by a disconnected client and merges them into the
// shared server state: remap, dedupe, conflict-filter, dependency-gate,
// authorize, then write — all inside one store transaction.
type Service struct {
	store    Store
	logger   *slog.Logger
	notifier Notifier
	config   *ServiceConfig
}

// NewService creates a push service. notifier may be nil when the deployment
// has no outbound side channel.
func NewService(store Store, config *ServiceConfig, notifier Notifier, logger *slog.Logger) *Service {
	if config == nil {
		config = &ServiceConfig{AppName: "matsync", Authorization: AuthStrictOwnership}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		logNotifierNil(logger)
	}
	return &Service{
		store:    store,
		logger:   logger,
		notifier: notifier,
		config:   config,
	}
}

// ProcessPush merges one client batch into server state. The whole batch is
// one all-or-nothing transaction; re-pushing an identical batch is safe
// because remap and dedup are referentially transparent given the same
// server state. Notifications for newly created directed messages are
// dispatched strictly after commit.
func (s *Service) ProcessPush(ctx context.Context, actor Actor, policy SyncPolicy, req *PushRequest) (*PushResponse, error) {
	if req == nil || req.ClientID == "" {
		return nil, ErrMissingClientID
	}
	if actor.ID == "" {
		return nil, fmt.Errorf("acting user is required")
	}

	s.logger.Info("Processing push batch",
		"client_id", req.ClientID, "user_id", actor.ID, "role", actor.Role,
		"tables", len(req.Upserts),
		"strict_dependencies", policy.StrictDependencies,
		"allow_conflicts", policy.AllowConflicts)

	diag := newDiagnostics(req.ClientID, actor.ID)
	batch := intake(s.logger, req, diag)
	effects := &pendingEffects{}

	var resp *PushResponse
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := remapIdentities(ctx, tx, s.logger, batch); err != nil {
			return err
		}
		if err := filterConflicts(ctx, tx, s.logger, batch, policy, diag); err != nil {
			return err
		}
		if err := validateDependencies(ctx, tx, s.logger, batch, actor, policy, diag); err != nil {
			return err
		}
		if err := authorizeWrites(ctx, tx, s.logger, batch, actor, s.config.Authorization, effects); err != nil {
			return err
		}
		var err error
		resp, err = writeBatch(ctx, tx, s.logger, batch, actor, policy, req.ClientID, effects, diag)
		return err
	})
	if err != nil {
		if IsFatalSyncError(err) {
			s.logger.Warn("Push batch rejected",
				"client_id", req.ClientID, "user_id", actor.ID, "error", err)
		} else {
			s.logger.Error("Push batch failed",
				"client_id", req.ClientID, "user_id", actor.ID, "error", err)
		}
		return nil, err
	}

	s.dispatchNotifications(ctx, effects.Notifications)
	return resp, nil
}

// Config returns the process-level configuration.
func (s *Service) Config() *ServiceConfig { return s.config }
