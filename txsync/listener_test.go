// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func mustPayload(t *testing.T, tx Transaction) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(tx)
	require.NoError(t, err)
	return b
}

func TestApplyBatchAddedInsertsRecord(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	acc := uuid.New()
	store.SetDefaultAccount(acc)

	tx := Transaction{ID: uuid.New(), UserID: "user1", Amount: -42,
		CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{{Kind: ChangeAdded, ID: tx.ID, Payload: mustPayload(t, tx), SourceID: "other"}})

	got, ok := store.Get(tx.ID)
	require.True(t, ok)
	require.Equal(t, int64(-42), got.Amount)
}

func TestApplyBatchBackfillsNullAccount(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	acc := uuid.New()
	store.SetDefaultAccount(acc)

	tx := Transaction{ID: uuid.New(), Amount: -1, CreatedAt: time.Now().UTC()} // AccountID nil
	svc.applyBatch([]ChangeEvent{{Kind: ChangeAdded, ID: tx.ID, Payload: mustPayload(t, tx), SourceID: "other"}})

	got, ok := store.Get(tx.ID)
	require.True(t, ok)
	require.NotNil(t, got.AccountID)
	require.Equal(t, acc, *got.AccountID)
}

func TestApplyBatchModifiedReplacesOrInserts(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	store.SetDefaultAccount(uuid.New())

	id := uuid.New()
	store.Insert(Transaction{ID: id, Amount: -10, CreatedAt: time.Now().UTC()})

	updated := Transaction{ID: id, Amount: -99, CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{{Kind: ChangeModified, ID: id, Payload: mustPayload(t, updated), SourceID: "other"}})
	got, _ := store.Get(id)
	require.Equal(t, int64(-99), got.Amount)

	// Modified for an unknown id behaves like Added.
	fresh := Transaction{ID: uuid.New(), Amount: 5, CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{{Kind: ChangeModified, ID: fresh.ID, Payload: mustPayload(t, fresh), SourceID: "other"}})
	_, ok := store.Get(fresh.ID)
	require.True(t, ok)
}

func TestApplyBatchRemoved(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})

	id := uuid.New()
	store.Insert(Transaction{ID: id, Amount: -3, CreatedAt: time.Now().UTC()})

	svc.applyBatch([]ChangeEvent{{Kind: ChangeRemoved, ID: id, SourceID: "other"}})
	_, ok := store.Get(id)
	require.False(t, ok)
	for _, tx := range store.All() {
		require.NotEqual(t, id, tx.ID)
	}

	// Removing an absent id is a no-op.
	svc.applyBatch([]ChangeEvent{{Kind: ChangeRemoved, ID: id, SourceID: "other"}})
	require.Empty(t, store.All())
}

func TestApplyBatchIdempotent(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	store.SetDefaultAccount(uuid.New())

	tx := Transaction{ID: uuid.New(), Amount: -42, CreatedAt: time.Now().UTC()}
	batch := []ChangeEvent{{Kind: ChangeAdded, ID: tx.ID, Payload: mustPayload(t, tx), SourceID: "other"}}

	svc.applyBatch(batch)
	first := store.All()
	svc.applyBatch(batch)
	require.Equal(t, first, store.All(), "replaying a batch must converge to the same content")
}

func TestApplyBatchSkipsMalformedDocument(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	store.SetDefaultAccount(uuid.New())

	good := Transaction{ID: uuid.New(), Amount: 1, CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{
		{Kind: ChangeAdded, ID: uuid.New(), Payload: json.RawMessage(`{not json`), SourceID: "other"},
		{Kind: ChangeAdded, ID: good.ID, Payload: mustPayload(t, good), SourceID: "other"},
	})

	_, ok := store.Get(good.ID)
	require.True(t, ok, "a malformed document must not abort the rest of the batch")
	require.Len(t, store.All(), 1)
}

func TestApplyBatchSkipsOwnEchoes(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	store.SetDefaultAccount(uuid.New())

	tx := Transaction{ID: uuid.New(), Amount: -7, CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{{Kind: ChangeAdded, ID: tx.ID, Payload: mustPayload(t, tx), SourceID: "device1"}})

	_, ok := store.Get(tx.ID)
	require.False(t, ok, "events originated by this device are echoes of already-applied writes")
}

func TestApplyBatchSkipsDocumentWithoutAssignableAccount(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	// No default account configured: a null-account document cannot be
	// backfilled and is skipped, but the rest of the batch still applies.

	acc := uuid.New()
	orphan := Transaction{ID: uuid.New(), Amount: -4, CreatedAt: time.Now().UTC()} // AccountID nil
	assigned := Transaction{ID: uuid.New(), AccountID: &acc, Amount: -8, CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{
		{Kind: ChangeAdded, ID: orphan.ID, Payload: mustPayload(t, orphan), SourceID: "other"},
		{Kind: ChangeAdded, ID: assigned.ID, Payload: mustPayload(t, assigned), SourceID: "other"},
	})

	_, ok := store.Get(orphan.ID)
	require.False(t, ok)
	_, ok = store.Get(assigned.ID)
	require.True(t, ok)
}

func TestApplyBatchEchoOnlyAdvancesLastSync(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	store.SetDefaultAccount(uuid.New())

	notifications := 0
	store.Observe(func() { notifications++ })

	// A batch of nothing but this device's own echoes mutates nothing, but
	// the feed still delivered current server state.
	tx := Transaction{ID: uuid.New(), Amount: -7, CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{{Kind: ChangeAdded, ID: tx.ID, Payload: mustPayload(t, tx), SourceID: "device1"}})

	require.Zero(t, notifications, "no mutation means no observer churn")
	require.False(t, svc.LastSyncDate().IsZero(), "a non-empty batch advances the last-synced timestamp")
}

func TestApplyBatchNotifiesOncePerBatch(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})
	store.SetDefaultAccount(uuid.New())

	notifications := 0
	store.Observe(func() { notifications++ })

	a := Transaction{ID: uuid.New(), Amount: 1, CreatedAt: time.Now().UTC()}
	b := Transaction{ID: uuid.New(), Amount: 2, CreatedAt: time.Now().UTC()}
	svc.applyBatch([]ChangeEvent{
		{Kind: ChangeAdded, ID: a.ID, Payload: mustPayload(t, a), SourceID: "other"},
		{Kind: ChangeAdded, ID: b.ID, Payload: mustPayload(t, b), SourceID: "other"},
	})

	require.Equal(t, 1, notifications)
	require.False(t, svc.LastSyncDate().IsZero(), "a non-empty batch advances the last-synced timestamp")
}

func TestApplyBatchEmptyDoesNothing(t *testing.T) {
	svc, store := newTestService(t, &fakeRemote{})

	notifications := 0
	store.Observe(func() { notifications++ })

	svc.applyBatch(nil)
	require.Zero(t, notifications)
	require.True(t, svc.LastSyncDate().IsZero())
}
