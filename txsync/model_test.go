// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTransactionRejectsMissingID(t *testing.T) {
	_, err := ParseTransaction(json.RawMessage(`{"amount": -100}`))
	require.Error(t, err)

	_, err = ParseTransaction(json.RawMessage(`{broken`))
	require.Error(t, err)
}

func TestParseTransactionRoundTrip(t *testing.T) {
	tx := NewTransaction("user1", nil, -1250, "groceries", time.Now())
	tx.Merchant = "Trader Joe's"
	tx.Items = []LineItem{{Name: "bananas", Amount: -250, Quantity: 3}}

	b, err := json.Marshal(tx)
	require.NoError(t, err)

	parsed, err := ParseTransaction(b)
	require.NoError(t, err)
	require.Equal(t, tx.ID, parsed.ID)
	require.Equal(t, tx.Amount, parsed.Amount)
	require.True(t, tx.Equal(parsed))
}

func TestNewTransactionStampsCreation(t *testing.T) {
	before := time.Now().UTC()
	tx := NewTransaction("user1", nil, 100, "salary", time.Now())
	after := time.Now().UTC()

	require.False(t, tx.CreatedAt.Before(before))
	require.False(t, tx.CreatedAt.After(after))
	require.NotEqual(t, tx.ID.String(), "00000000-0000-0000-0000-000000000000")
}
