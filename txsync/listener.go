// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"context"
	"time"
)

// listenLoop drains change-feed batches until the subscription channel closes
// or the context is canceled.
func (s *Service) listenLoop(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-sub.C:
			if !ok {
				return
			}
			s.applyBatch(batch)
		}
	}
}

// applyBatch applies one batch of remote change events to the local store.
// Events from this device are skipped (they are echoes of writes the direct
// path already applied). Malformed documents are skipped individually without
// aborting the batch. Observers are notified exactly once per batch that
// actually mutated the store; any non-empty batch advances the last-synced
// timestamp even when every event was an echo or a skip, since the feed did
// deliver fresh server state. Application is idempotent: replaying a batch
// converges to the same store content.
func (s *Service) applyBatch(events []ChangeEvent) {
	if len(events) == 0 {
		return
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	mutated := 0
	for _, ev := range events {
		if ev.SourceID != "" && ev.SourceID == s.sourceID {
			continue
		}
		switch ev.Kind {
		case ChangeRemoved:
			if _, ok := s.local.Get(ev.ID); ok {
				s.local.Remove(ev.ID)
				mutated++
			}
		case ChangeAdded, ChangeModified:
			tx, err := ParseTransaction(ev.Payload)
			if err != nil {
				s.logger.Warn("skipping malformed feed document", "id", ev.ID, "error", err)
				continue
			}
			tx, err = s.backfillAccount(tx)
			if err != nil {
				s.logger.Warn("skipping feed document without assignable account", "id", ev.ID, "error", err)
				continue
			}
			// Modified falls back to an insert when the record is not
			// present locally; Added replaces when it already is. Both
			// converge to the remote version either way.
			if _, ok := s.local.Get(tx.ID); ok {
				s.local.Replace(tx)
			} else {
				s.local.Insert(tx)
			}
			mutated++
		default:
			s.logger.Warn("unknown change event kind", "kind", ev.Kind, "id", ev.ID)
		}
	}

	if mutated > 0 {
		s.local.NotifyChanged()
	}
	s.stateMu.Lock()
	s.lastSync = time.Now().UTC()
	s.stateMu.Unlock()
}
