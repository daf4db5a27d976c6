// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dcardines-design/cashmonki-sub004/txsync"
)

func newFeedTestServer(t *testing.T) (*httptest.Server, *FeedHub, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := NewJWTAuth("test-secret")
	svc := &Service{logger: logger, hub: NewFeedHub(logger)}
	h := NewHandlers(svc, auth, logger)

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)

	token, err := auth.GenerateToken("user1", "device1", time.Hour)
	require.NoError(t, err)
	return srv, svc.Hub(), token
}

func dialFeed(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/feed"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	return conn
}

func subscriberCount(hub *FeedHub, userID string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subs[userID])
}

func TestFeedDeliversBroadcasts(t *testing.T) {
	srv, hub, token := newFeedTestServer(t)

	conn := dialFeed(t, srv, token)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "user1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	want := []txsync.ChangeEvent{{Kind: txsync.ChangeAdded, ID: uuid.New(), SourceID: "device2"}}
	hub.Broadcast("user1", want)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []txsync.ChangeEvent
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	require.Len(t, got, 1)
	require.Equal(t, want[0].ID, got[0].ID)
	require.Equal(t, txsync.ChangeAdded, got[0].Kind)
}

func TestFeedReleasesSubscriberOnClientDisconnect(t *testing.T) {
	srv, hub, token := newFeedTestServer(t)

	conn := dialFeed(t, srv, token)
	require.Eventually(t, func() bool {
		return subscriberCount(hub, "user1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Close with no broadcast in flight. The handler must notice the
	// dropped peer on its own and tear the subscription down rather than
	// parking on an idle channel until the next write.
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool {
		return subscriberCount(hub, "user1") == 0
	}, 2*time.Second, 10*time.Millisecond, "subscription must be released without waiting for a broadcast")
}

func TestFeedRejectsMissingToken(t *testing.T) {
	srv, _, _ := newFeedTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/feed")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
