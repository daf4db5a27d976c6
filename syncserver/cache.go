// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// fetchCache memoizes per-user fetch-all responses. Entries are invalidated on
// every mutation for that user, so a hit is always current.
type fetchCache struct {
	cache *ristretto.Cache
}

func newFetchCache() (*fetchCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000, // number of keys to track frequency of
		MaxCost:     1000,  // at most ~1000 cached user collections
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fetch cache: %w", err)
	}
	return &fetchCache{cache: c}, nil
}

func (f *fetchCache) key(userID string) string { return "txs:" + userID }

func (f *fetchCache) get(userID string) ([]json.RawMessage, bool) {
	v, ok := f.cache.Get(f.key(userID))
	if !ok {
		return nil, false
	}
	payloads, ok := v.([]json.RawMessage)
	return payloads, ok
}

func (f *fetchCache) set(userID string, payloads []json.RawMessage) {
	f.cache.Set(f.key(userID), payloads, 1)
}

func (f *fetchCache) invalidate(userID string) {
	f.cache.Del(f.key(userID))
}

func (f *fetchCache) close() {
	f.cache.Close()
}
