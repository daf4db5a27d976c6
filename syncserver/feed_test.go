// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dcardines-design/cashmonki-sub004/txsync"
)

func testHub() *FeedHub {
	return NewFeedHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFeedHubDeliversToUserSubscribers(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	subA := hub.Subscribe("user1")
	subB := hub.Subscribe("user1")
	other := hub.Subscribe("user2")

	batch := []txsync.ChangeEvent{{Kind: txsync.ChangeAdded, ID: uuid.New(), SourceID: "dev1"}}
	hub.Broadcast("user1", batch)

	require.Equal(t, batch, <-subA.C())
	require.Equal(t, batch, <-subB.C())
	select {
	case got := <-other.C():
		t.Fatalf("user2 subscriber received user1 batch: %v", got)
	default:
	}
}

func TestFeedHubUnsubscribeClosesChannel(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	sub := hub.Subscribe("user1")
	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub) // idempotent

	_, ok := <-sub.C()
	require.False(t, ok)

	// Broadcast after unsubscribe must not panic on the closed channel.
	hub.Broadcast("user1", []txsync.ChangeEvent{{Kind: txsync.ChangeRemoved, ID: uuid.New()}})
}

func TestFeedHubDropsWhenSubscriberFull(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	sub := hub.Subscribe("user1")
	batch := []txsync.ChangeEvent{{Kind: txsync.ChangeAdded, ID: uuid.New()}}
	for i := 0; i < 100; i++ {
		hub.Broadcast("user1", batch) // overflow drops instead of blocking
	}

	drained := 0
	for {
		select {
		case <-sub.C():
			drained++
			continue
		default:
		}
		break
	}
	require.LessOrEqual(t, drained, 32)
	require.Greater(t, drained, 0)
}

func TestFeedHubCloseClosesAllSubscribers(t *testing.T) {
	hub := testHub()
	subA := hub.Subscribe("user1")
	subB := hub.Subscribe("user2")

	hub.Close()
	_, okA := <-subA.C()
	_, okB := <-subB.C()
	require.False(t, okA)
	require.False(t, okB)

	// Subscribing after close yields an already-closed channel.
	late := hub.Subscribe("user3")
	_, ok := <-late.C()
	require.False(t, ok)
}

func TestFeedHubEmptyBatchIgnored(t *testing.T) {
	hub := testHub()
	defer hub.Close()

	sub := hub.Subscribe("user1")
	hub.Broadcast("user1", nil)

	select {
	case <-sub.C():
		t.Fatal("empty batch must not be delivered")
	default:
	}
}
