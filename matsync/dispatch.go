// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package matsync

import (
	"context"
	"log/slog"
)

// Notifier is the outbound side channel for directed messages. Delivery is
// fire-and-forget relative to the sync transaction: implementations may drop
// messages, and failures never roll anything back.
type Notifier interface {
	// Notify delivers one notification to its recipient. recipients lists
	// the resolved target user ids (one for directed messages, all active
	// users except the sender for broadcasts).
	Notify(ctx context.Context, recipients []string, n *Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, recipients []string, n *Notification) error

func (f NotifierFunc) Notify(ctx context.Context, recipients []string, n *Notification) error {
	return f(ctx, recipients, n)
}

// dispatchNotifications delivers the batch's pending notifications strictly
// after the transaction committed. An unaddressed message fans out to every
// active user except the sender.
func (s *Service) dispatchNotifications(ctx context.Context, notifications []*Notification) {
	if s.notifier == nil || len(notifications) == 0 {
		return
	}

	var active []string
	for _, n := range notifications {
		var recipients []string
		if n.RecipientID != nil {
			recipients = []string{*n.RecipientID}
		} else {
			if active == nil {
				ids, err := s.activeUserIDs(ctx)
				if err != nil {
					s.logger.Warn("Failed to resolve broadcast recipients",
						"error", err, "message_id", n.MessageID)
					continue
				}
				active = ids
			}
			for _, id := range active {
				if id != n.SenderID {
					recipients = append(recipients, id)
				}
			}
		}

		if len(recipients) == 0 {
			continue
		}
		if err := s.notifier.Notify(ctx, recipients, n); err != nil {
			s.logger.Warn("Notification delivery failed",
				"error", err, "message_id", n.MessageID, "recipients", len(recipients))
		}
	}
}

// activeUserIDs reads the live presence rows in a short read-only
// transaction outside the push transaction.
func (s *Service) activeUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		ids, err = tx.ActiveUserIDs(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func logNotifierNil(logger *slog.Logger) {
	logger.Debug("No notifier configured; directed messages will not fan out")
}
