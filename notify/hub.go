// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers post-commit chat notifications to connected
// clients over WebSocket.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 16
)

// Hub tracks live WebSocket sessions per user and fans notifications out
// to them. It implements matsync.Notifier; delivery is best effort, a
// slow or gone client just misses the ping and catches up on next pull.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]map[*session]struct{}
}

type session struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		sessions: make(map[string]map[*session]struct{}),
	}
}

// Notify implements matsync.Notifier. Recipients with no live session are
// skipped silently.
func (h *Hub) Notify(ctx context.Context, recipients []string, n *matsync.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range recipients {
		for sess := range h.sessions[userID] {
			select {
			case sess.send <- payload:
			default:
				// Buffer full means the client stopped reading.
				h.logger.Warn("Dropping notification for stalled session",
					"user_id", userID)
			}
		}
	}
	return nil
}

// Connected reports how many sessions a user currently has open.
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// ServeWS upgrades the request and pumps notifications until the client
// disconnects. The caller authenticates the request and passes the actor.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, actor *matsync.Actor) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err, "user_id", actor.ID)
		return
	}
	sess := &session{userID: actor.ID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.register(sess)
	h.logger.Info("Notification session opened", "user_id", actor.ID, "username", actor.Username)

	go sess.writePump()
	sess.readPump()

	h.unregister(sess)
	h.logger.Info("Notification session closed", "user_id", actor.ID)
}

func (h *Hub) register(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[sess.userID]
	if !ok {
		set = make(map[*session]struct{})
		h.sessions[sess.userID] = set
	}
	set[sess] = struct{}{}
}

func (h *Hub) unregister(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.sessions[sess.userID]
	if _, ok := set[sess]; !ok {
		return
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(h.sessions, sess.userID)
	}
	close(sess.send)
}

// readPump discards inbound frames; the socket is server-to-client only.
// Reading is still required to process control frames and notice closes.
func (s *session) readPump() {
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
