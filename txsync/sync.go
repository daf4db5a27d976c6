// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSyncInProgress is returned when a sync request arrives while one is
	// already running. Requests are dropped, not queued; callers re-request
	// after completion if they still care.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrPushFailed wraps any failure of the push phase.
	ErrPushFailed = errors.New("push failed")

	// ErrPullFailed wraps any failure of the pull phase. The local collection
	// is left untouched when this is returned.
	ErrPullFailed = errors.New("pull failed")
)

// Sync runs one full push-then-pull reconciliation pass. Phase 2 only runs if
// phase 1 fully succeeds. On full success the pending set is cleared, the
// last-synced timestamp is stamped and any displayed error is dropped.
func (s *Service) Sync(ctx context.Context) error {
	return s.sync(ctx, false)
}

// FullResync pushes the entire local collection (not just the pending subset)
// before pulling. Used for device recovery and first sign-in on a device that
// already holds local data.
func (s *Service) FullResync(ctx context.Context) error {
	return s.sync(ctx, true)
}

func (s *Service) sync(ctx context.Context, pushAll bool) error {
	if !atomic.CompareAndSwapInt32(&s.isSyncing, 0, 1) {
		s.logger.Debug("sync requested while in progress, dropping")
		return ErrSyncInProgress
	}
	defer atomic.StoreInt32(&s.isSyncing, 0)

	start := time.Now()
	if err := s.pushPhase(ctx, pushAll); err != nil {
		s.setError(err.Error())
		return fmt.Errorf("%w: %w", ErrPushFailed, err)
	}
	if err := s.pullPhase(ctx); err != nil {
		s.setError(err.Error())
		return fmt.Errorf("%w: %w", ErrPullFailed, err)
	}

	s.pending.ClearAll()
	s.markSynced(time.Now().UTC())
	s.logger.Info("sync completed", "elapsed", time.Since(start))
	return nil
}

// pushPhase uploads local mutations. Per-record upserts fan out concurrently
// and the phase joins on all of them; any failure re-marks that id pending and
// fails the phase so the pull never runs against a half-pushed remote.
//
// A pending id with no matching local record is a local deletion and is
// pushed as a remote delete.
func (s *Service) pushPhase(ctx context.Context, pushAll bool) error {
	type job struct {
		id uuid.UUID
		tx *Transaction // nil means deleted locally
	}

	var jobs []job
	s.storeMu.Lock()
	if pushAll {
		for _, tx := range s.local.All() {
			t := tx
			jobs = append(jobs, job{id: tx.ID, tx: &t})
		}
	} else {
		for _, id := range s.pending.Snapshot() {
			if tx, ok := s.local.Get(id); ok {
				t := tx
				jobs = append(jobs, job{id: id, tx: &t})
			} else {
				jobs = append(jobs, job{id: id})
			}
		}
	}
	s.storeMu.Unlock()

	if len(jobs) == 0 {
		return nil
	}

	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, j := range jobs {
		wg.Add(1)
		go func(i int, j job) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, s.config.RemoteTimeout)
			defer cancel()
			if j.tx != nil {
				errs[i] = s.remote.Upsert(callCtx, s.userID, *j.tx)
			} else {
				errs[i] = s.remote.Delete(callCtx, s.userID, j.id)
			}
		}(i, j)
	}
	wg.Wait()

	var failed error
	for i, err := range errs {
		if err != nil {
			s.pending.MarkPending(jobs[i].id)
			s.logger.Warn("push failed for record", "id", jobs[i].id, "error", err)
			if failed == nil {
				failed = err
			}
		} else {
			s.pending.ClearPending(jobs[i].id)
		}
	}
	return failed
}

// pullPhase fetches the complete remote set and merges it with local state.
// The merged collection replaces the store contents in one atomic swap
// followed by a single change notification; on any failure nothing is
// committed.
func (s *Service) pullPhase(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.RemoteTimeout)
	defer cancel()
	remoteTxs, err := s.remote.FetchAll(callCtx, s.userID)
	if err != nil {
		return fmt.Errorf("failed to fetch remote transactions: %w", err)
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	merged, err := s.merge(s.local.All(), remoteTxs)
	if err != nil {
		return err
	}
	s.local.ReplaceAll(merged)
	s.local.NotifyChanged()
	return nil
}

// merge reconciles the two sides:
//   - id on both sides with differing content: resolver picks the winner
//     (later CreatedAt, ties to remote);
//   - id only local: retained as-is, to be pushed on the next cycle;
//   - id only remote: inserted, backfilling a null account id with the
//     store's default account. A missing default account fails the whole
//     merge so no partial state is committed.
func (s *Service) merge(local, remote []Transaction) ([]Transaction, error) {
	byID := make(map[uuid.UUID]Transaction, len(local))
	for _, tx := range local {
		byID[tx.ID] = tx
	}

	for _, rt := range remote {
		lt, ok := byID[rt.ID]
		if !ok {
			backfilled, err := s.backfillAccount(rt)
			if err != nil {
				return nil, err
			}
			byID[rt.ID] = backfilled
			continue
		}
		if lt.Equal(rt) {
			continue
		}
		winner := s.resolver.Resolve(lt, rt)
		side := "remote"
		if winner.Equal(lt) {
			side = "local"
		}
		s.logger.Debug("conflict resolved", "id", rt.ID, "winner", side)
		byID[rt.ID] = winner
	}

	out := make([]Transaction, 0, len(byID))
	for _, tx := range byID {
		out = append(out, tx)
	}
	return out, nil
}

// backfillAccount assigns the default account to a record with a null account
// id. Records observed with a null account are transient; they must resolve
// to a concrete account before being treated as settled.
func (s *Service) backfillAccount(tx Transaction) (Transaction, error) {
	if tx.AccountID != nil {
		return tx, nil
	}
	def, ok := s.local.DefaultAccountID()
	if !ok {
		return Transaction{}, fmt.Errorf("no default account to assign transaction %s", tx.ID)
	}
	tx.AccountID = &def
	return tx, nil
}
