// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDeriveStatusPrecedence(t *testing.T) {
	synced := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		syncing  bool
		errMsg   string
		pending  int
		lastSync time.Time
		want     StatusKind
	}{
		{"syncing beats everything", true, "boom", 3, synced, StatusSyncing},
		{"error beats pending", false, "boom", 3, synced, StatusError},
		{"pending beats synced", false, "", 3, synced, StatusPendingChanges},
		{"synced when clean", false, "", 0, synced, StatusSynced},
		{"not synced initially", false, "", 0, time.Time{}, StatusNotSynced},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveStatus(tc.syncing, tc.errMsg, tc.pending, tc.lastSync)
			require.Equal(t, tc.want, got.Kind)
		})
	}
}

func TestDeriveStatusCarriesDetail(t *testing.T) {
	s := deriveStatus(false, "network unreachable", 0, time.Time{})
	require.Equal(t, "network unreachable", s.Message)

	s = deriveStatus(false, "", 4, time.Time{})
	require.Equal(t, 4, s.PendingCount)

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s = deriveStatus(false, "", 0, at)
	require.Equal(t, at, s.LastSyncedAt)
}
