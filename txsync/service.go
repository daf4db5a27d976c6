// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

// Package txsync implements bidirectional synchronization of personal-finance
// transactions between a device-local store and a per-user remote collection.
//
// The service tracks unconfirmed local mutations in a pending set, applies
// remote change-feed events to the local store as they arrive, and reconciles
// both sides with a push-then-pull full sync using last-write-wins conflict
// resolution keyed by creation timestamp.
package txsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds tuning for the sync service.
type Config struct {
	RemoteTimeout time.Duration // bound on each individual remote call
	SyncInterval  time.Duration // periodic catch-up tick
	BackoffMin    time.Duration // retry backoff after a failed pass
	BackoffMax    time.Duration
}

// DefaultConfig returns the tuning used by the app shell.
func DefaultConfig() *Config {
	return &Config{
		RemoteTimeout: 30 * time.Second,
		SyncInterval:  60 * time.Second,
		BackoffMin:    1 * time.Second,
		BackoffMax:    60 * time.Second,
	}
}

// Service is the per-process sync coordinator. Exactly one instance exists per
// signed-in user; construct it at process start and hand it to consumers
// rather than reaching for ambient globals.
type Service struct {
	local    LocalStore
	remote   RemoteStore
	resolver Resolver
	pending  *PendingTracker
	logger   *slog.Logger
	config   *Config

	userID   string
	sourceID string // this device's feed origin id, used to skip own echoes

	// storeMu serializes every mutation of the local store, whether it comes
	// from the direct-write path, the feed listener or the pull merge.
	storeMu sync.Mutex

	isSyncing int32 // atomic guard: a sync request while one is in flight is dropped

	stateMu      sync.Mutex
	syncErr      string
	lastSync     time.Time
	pendingCount int

	loopCancel context.CancelFunc
	sub        *Subscription
	wg         sync.WaitGroup
}

// New creates a sync service for the given user. logger may be nil, config may
// be nil; both fall back to defaults. The resolver defaults to last-write-wins.
func New(local LocalStore, remote RemoteStore, userID, sourceID string, config *Config, logger *slog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		local:    local,
		remote:   remote,
		resolver: LastWriteWinsResolver{},
		logger:   logger.With("component", "txsync"),
		config:   config,
		userID:   userID,
		sourceID: sourceID,
	}
	s.pending = NewPendingTracker(func(count int) {
		s.stateMu.Lock()
		s.pendingCount = count
		s.stateMu.Unlock()
	})
	return s
}

// SetResolver replaces the conflict resolver. Must be called before Start.
func (s *Service) SetResolver(r Resolver) { s.resolver = r }

// Status projects the current sync state for display.
func (s *Service) Status() Status {
	syncing := atomic.LoadInt32(&s.isSyncing) == 1
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return deriveStatus(syncing, s.syncErr, s.pendingCount, s.lastSync)
}

// PendingCount returns the number of unconfirmed local mutations.
func (s *Service) PendingCount() int { return s.pending.Count() }

// LastSyncDate returns the time of the last fully successful sync, or zero.
func (s *Service) LastSyncDate() time.Time {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.lastSync
}

// ClearError drops the displayed sync error without retrying anything.
func (s *Service) ClearError() {
	s.stateMu.Lock()
	s.syncErr = ""
	s.stateMu.Unlock()
}

func (s *Service) setError(msg string) {
	s.stateMu.Lock()
	s.syncErr = msg
	s.stateMu.Unlock()
}

func (s *Service) markSynced(at time.Time) {
	s.stateMu.Lock()
	s.lastSync = at
	s.syncErr = ""
	s.stateMu.Unlock()
}

// Add inserts a locally-created transaction and attempts an immediate remote
// write. On remote failure the id stays pending and the next periodic pass
// retries; the local insert is never rolled back.
func (s *Service) Add(ctx context.Context, tx Transaction) {
	s.storeMu.Lock()
	s.local.Insert(tx)
	s.local.NotifyChanged()
	s.storeMu.Unlock()
	s.pending.MarkPending(tx.ID)
	s.pushOne(ctx, tx)
}

// Update replaces a transaction locally and attempts an immediate remote write.
func (s *Service) Update(ctx context.Context, tx Transaction) {
	s.storeMu.Lock()
	s.local.Replace(tx)
	s.local.NotifyChanged()
	s.storeMu.Unlock()
	s.pending.MarkPending(tx.ID)
	s.pushOne(ctx, tx)
}

// Remove deletes a transaction locally and attempts an immediate remote delete.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) {
	s.storeMu.Lock()
	s.local.Remove(id)
	s.local.NotifyChanged()
	s.storeMu.Unlock()
	s.pending.MarkPending(id)

	ctx, cancel := context.WithTimeout(ctx, s.config.RemoteTimeout)
	defer cancel()
	if err := s.remote.Delete(ctx, s.userID, id); err != nil {
		s.logger.Warn("remote delete failed, will retry on next pass", "id", id, "error", err)
		s.setError(err.Error())
		return
	}
	s.pending.ClearPending(id)
}

// pushOne issues a single bounded upsert and clears the pending mark on
// confirmed success.
func (s *Service) pushOne(ctx context.Context, tx Transaction) {
	ctx, cancel := context.WithTimeout(ctx, s.config.RemoteTimeout)
	defer cancel()
	if err := s.remote.Upsert(ctx, s.userID, tx); err != nil {
		s.logger.Warn("remote upsert failed, will retry on next pass", "id", tx.ID, "error", err)
		s.setError(err.Error())
		return
	}
	s.pending.ClearPending(tx.ID)
}

// DeleteAllRemote wipes the user's remote collection. Account-deletion flow
// only; it does not touch local data or the pending set.
func (s *Service) DeleteAllRemote(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.RemoteTimeout)
	defer cancel()
	if err := s.remote.ClearAll(ctx, s.userID); err != nil {
		return fmt.Errorf("failed to clear remote transactions: %w", err)
	}
	return nil
}

// Start establishes the change-feed subscription and launches the periodic
// catch-up loop. A failed subscription is surfaced on the status field and
// left to ForceSync/periodic passes to compensate; Start itself still
// succeeds so the app keeps operating on local data.
func (s *Service) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel

	sub, err := s.remote.Subscribe(loopCtx, s.userID)
	if err != nil {
		s.logger.Warn("change feed not established", "error", err)
		s.setError(err.Error())
	} else {
		s.sub = sub
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.listenLoop(loopCtx, sub)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.periodicLoop(loopCtx)
	}()
}

// Stop cancels the periodic loop and tears down the subscription. An event
// batch already queued before teardown may still be applied.
func (s *Service) Stop() {
	if s.loopCancel != nil {
		s.loopCancel()
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.wg.Wait()
}

// OnResume is invoked by the host shell when the app returns to foreground.
// It kicks a catch-up pass if anything is pending or nothing synced yet.
func (s *Service) OnResume(ctx context.Context) {
	if s.pending.Count() > 0 || s.LastSyncDate().IsZero() {
		_ = s.Sync(ctx)
	}
}

// OnConnectivityRestored is invoked by the host shell when the network comes
// back; it always runs a pass so a long-offline device converges promptly.
func (s *Service) OnConnectivityRestored(ctx context.Context) {
	_ = s.Sync(ctx)
}

// periodicLoop retries reconciliation on a timer whenever there is anything
// pending, with exponential backoff after failed passes.
func (s *Service) periodicLoop(ctx context.Context) {
	backoff := s.config.BackoffMin
	ticker := time.NewTicker(s.config.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.pending.Count() == 0 {
			continue
		}
		if err := s.Sync(ctx); err != nil {
			s.logger.Debug("periodic sync failed", "error", err, "backoff", backoff)
			if err := sleepWithContext(ctx, backoff); err != nil {
				return
			}
			backoff *= 2
			if backoff > s.config.BackoffMax {
				backoff = s.config.BackoffMax
			}
		} else {
			backoff = s.config.BackoffMin
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
