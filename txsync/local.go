// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// LocalStore is the device-side transaction collection the sync core reads and
// writes through. Implementations do not need to be goroutine-safe for
// concurrent mutation: the sync service serializes every mutation behind its
// own lock. NotifyChanged is fired by the sync core exactly once per batch of
// mutations so observers see a settled collection.
type LocalStore interface {
	All() []Transaction
	Get(id uuid.UUID) (Transaction, bool)
	Insert(tx Transaction)
	Replace(tx Transaction)
	Remove(id uuid.UUID)

	// ReplaceAll swaps the entire collection in one atomic assignment.
	// Used by the pull merge so no partially-merged state is ever visible.
	ReplaceAll(txs []Transaction)

	// DefaultAccountID returns the account used to backfill inbound records
	// that carry a null account id. ok=false means no default exists yet.
	DefaultAccountID() (uuid.UUID, bool)

	NotifyChanged()
}

// MemStore is an in-memory LocalStore. It backs the app-layer view model and
// the package tests; durable persistence lives in sqlitestore.
type MemStore struct {
	mu        sync.RWMutex
	txs       map[uuid.UUID]Transaction
	defaultID *uuid.UUID
	observers []func()
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{txs: make(map[uuid.UUID]Transaction)}
}

// SetDefaultAccount sets the account backfilled onto inbound records with a
// null account id.
func (s *MemStore) SetDefaultAccount(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultID = &id
}

func (s *MemStore) DefaultAccountID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.defaultID == nil {
		return uuid.Nil, false
	}
	return *s.defaultID, true
}

// All returns the collection ordered by occurrence date descending, matching
// the order the presentation layer lists transactions in.
func (s *MemStore) All() []Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *MemStore) Get(id uuid.UUID) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	return tx, ok
}

func (s *MemStore) Insert(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.ID] = tx
}

func (s *MemStore) Replace(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.ID] = tx
}

func (s *MemStore) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, id)
}

func (s *MemStore) ReplaceAll(txs []Transaction) {
	next := make(map[uuid.UUID]Transaction, len(txs))
	for _, tx := range txs {
		next[tx.ID] = tx
	}
	s.mu.Lock()
	s.txs = next
	s.mu.Unlock()
}

// Observe registers a callback fired on NotifyChanged. Callbacks run on the
// notifying goroutine and must not mutate the store re-entrantly.
func (s *MemStore) Observe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *MemStore) NotifyChanged() {
	s.mu.RLock()
	observers := make([]func(), len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn()
	}
}
