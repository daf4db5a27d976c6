// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"sync"

	"github.com/google/uuid"
)

// PendingTracker holds the ids of transactions whose local mutation has not
// yet been confirmed as persisted remotely. Entries are added on every local
// create/update/delete and removed only on confirmed remote success.
type PendingTracker struct {
	mu      sync.Mutex
	ids     map[uuid.UUID]struct{}
	publish func(count int)
}

// NewPendingTracker creates an empty tracker. publish, if non-nil, is invoked
// with the new count after every mutation (the status surface listens here).
func NewPendingTracker(publish func(count int)) *PendingTracker {
	return &PendingTracker{
		ids:     make(map[uuid.UUID]struct{}),
		publish: publish,
	}
}

// MarkPending records id as having an unconfirmed local mutation. Idempotent.
func (p *PendingTracker) MarkPending(id uuid.UUID) {
	p.mu.Lock()
	p.ids[id] = struct{}{}
	count := len(p.ids)
	p.mu.Unlock()
	if p.publish != nil {
		p.publish(count)
	}
}

// ClearPending removes id from the set. No-op if absent.
func (p *PendingTracker) ClearPending(id uuid.UUID) {
	p.mu.Lock()
	_, present := p.ids[id]
	delete(p.ids, id)
	count := len(p.ids)
	p.mu.Unlock()
	if present && p.publish != nil {
		p.publish(count)
	}
}

// ClearAll empties the set after a fully successful sync pass.
func (p *PendingTracker) ClearAll() {
	p.mu.Lock()
	p.ids = make(map[uuid.UUID]struct{})
	p.mu.Unlock()
	if p.publish != nil {
		p.publish(0)
	}
}

// Count returns the current set size.
func (p *PendingTracker) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Snapshot returns the pending ids at this instant. The push phase iterates
// over a snapshot so confirmations landing mid-pass cannot skew the loop.
func (p *PendingTracker) Snapshot() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uuid.UUID, 0, len(p.ids))
	for id := range p.ids {
		out = append(out, id)
	}
	return out
}
