// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
)

// ChangeKind identifies how a remote document changed.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent is one entry of the remote change feed. Added/Modified carry the
// full document payload; Removed carries only the id. SourceID identifies the
// device that originated the write so a client can skip its own echoes.
type ChangeEvent struct {
	Kind     ChangeKind      `json:"kind"`
	ID       uuid.UUID       `json:"id"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SourceID string          `json:"source_id,omitempty"`
}

// Subscription is a live change-feed subscription. Batches arrive on C until
// Unsubscribe is called or the feed's context is canceled, after which C is
// closed. Unsubscribe stops delivery of new batches only; a batch already
// queued may still be received.
type Subscription struct {
	C      <-chan []ChangeEvent
	cancel context.CancelFunc
}

// NewSubscription wraps a delivery channel and its teardown func. RemoteStore
// implementations use this to hand a feed to the listener.
func NewSubscription(c <-chan []ChangeEvent, cancel context.CancelFunc) *Subscription {
	return &Subscription{C: c, cancel: cancel}
}

// Unsubscribe tears down the subscription. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel()
	}
}

// ErrListenerUnavailable indicates the change feed could not be established
// (service unreachable or the user is not authenticated). The caller surfaces
// it on the status field; it never aborts the process and the listener itself
// performs no retry.
var ErrListenerUnavailable = errors.New("change feed unavailable")

// RemoteStore is the document-oriented cloud database the sync core talks to.
// All calls are bounded by the passed context.
type RemoteStore interface {
	Upsert(ctx context.Context, userID string, tx Transaction) error
	Delete(ctx context.Context, userID string, id uuid.UUID) error
	FetchAll(ctx context.Context, userID string) ([]Transaction, error)
	Subscribe(ctx context.Context, userID string) (*Subscription, error)

	// ClearAll wipes the user's remote collection. Used by account-deletion
	// flows, not by sync proper.
	ClearAll(ctx context.Context, userID string) error
}
