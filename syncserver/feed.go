// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"log/slog"
	"sync"

	"github.com/dcardines-design/cashmonki-sub004/txsync"
)

// FeedHub fans change-event batches out to the websocket subscribers of each
// user. A subscriber that cannot keep up has batches dropped rather than
// stalling the writers; a dropped client reconverges on its next full sync.
type FeedHub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[*FeedSub]struct{} // keyed by user id
	closed bool
}

// FeedSub is one subscriber's delivery queue.
type FeedSub struct {
	userID string
	ch     chan []txsync.ChangeEvent
}

// C returns the subscriber's batch channel. Closed on Unsubscribe or hub
// shutdown.
func (s *FeedSub) C() <-chan []txsync.ChangeEvent { return s.ch }

// NewFeedHub creates an empty hub.
func NewFeedHub(logger *slog.Logger) *FeedHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHub{
		logger: logger.With("component", "feedhub"),
		subs:   make(map[string]map[*FeedSub]struct{}),
	}
}

// Subscribe registers a delivery queue for the user's events.
func (h *FeedHub) Subscribe(userID string) *FeedSub {
	sub := &FeedSub{userID: userID, ch: make(chan []txsync.ChangeEvent, 32)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*FeedSub]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Idempotent.
func (h *FeedHub) Unsubscribe(sub *FeedSub) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.userID)
	}
	close(sub.ch)
}

// Broadcast delivers a batch to every subscriber of the user.
func (h *FeedHub) Broadcast(userID string, events []txsync.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[userID] {
		select {
		case sub.ch <- events:
		default:
			h.logger.Warn("dropping feed batch for slow subscriber", "user_id", userID)
		}
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *FeedHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(h.subs, userID)
	}
}
