// Copyright 2025 MatricaRMZ
// SPDX-License-Identifier: Apache-2.0

package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Valstan/MatricaRMZ-sub001/matsync"
	"github.com/Valstan/MatricaRMZ-sub001/notify"
)

func newTestHub() *notify.Hub {
	return notify.NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dial(t *testing.T, hub *notify.Hub, userID string) (*websocket.Conn, func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, &matsync.Actor{ID: userID, Username: userID})
	}))
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return hub.Connected(userID) == 1 },
		time.Second, 10*time.Millisecond)

	return conn, func() {
		_ = conn.Close()
		server.Close()
	}
}

func TestHubDelivery(t *testing.T) {
	hub := newTestHub()
	conn, cleanup := dial(t, hub, "user-bob")
	defer cleanup()

	recipient := "user-bob"
	err := hub.Notify(context.Background(), []string{"user-bob"}, &matsync.Notification{
		MessageID:      "msg-1",
		SenderID:       "user-alice",
		SenderUsername: "alice",
		RecipientID:    &recipient,
		Body:           "pump fixed",
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got matsync.Notification
	require.NoError(t, json.Unmarshal(payload, &got))
	require.Equal(t, "msg-1", got.MessageID)
	require.Equal(t, "pump fixed", got.Body)
}

func TestHubIgnoresUnknownRecipients(t *testing.T) {
	hub := newTestHub()
	err := hub.Notify(context.Background(), []string{"nobody-home"}, &matsync.Notification{
		MessageID: "msg-1", SenderID: "user-alice", Body: "hello?",
	})
	require.NoError(t, err)
	require.Zero(t, hub.Connected("nobody-home"))
}

func TestHubSessionLifecycle(t *testing.T) {
	hub := newTestHub()
	conn, cleanup := dial(t, hub, "user-bob")

	require.Equal(t, 1, hub.Connected("user-bob"))
	_ = conn.Close()
	require.Eventually(t, func() bool { return hub.Connected("user-bob") == 0 },
		2*time.Second, 10*time.Millisecond)
	cleanup()
}
