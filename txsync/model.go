// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Transaction is the unit of synchronization. The same record exists locally
// and remotely under a stable ID; CreatedAt is assigned once at creation and
// serves as the conflict-resolution key (it must never be mutated afterwards).
type Transaction struct {
	ID            uuid.UUID  `json:"id"`
	UserID        string     `json:"user_id"`
	AccountID     *uuid.UUID `json:"account_id,omitempty"` // nil until backfilled with the default account
	Amount        int64      `json:"amount"`               // signed minor units; positive=income, negative=expense
	Category      string     `json:"category"`
	Date          time.Time  `json:"date"`
	CreatedAt     time.Time  `json:"created_at"`
	Merchant      string     `json:"merchant,omitempty"`
	Note          string     `json:"note,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Items         []LineItem `json:"items,omitempty"`
}

// LineItem is a descriptive sub-entry of a transaction (receipt line). It is
// carried opaquely by sync and never participates in conflict resolution.
type LineItem struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Quantity int    `json:"quantity,omitempty"`
}

// Equal reports whether two records carry identical content. Used by the merge
// to decide whether a pair of copies diverged at all.
func (t Transaction) Equal(other Transaction) bool {
	a, err1 := json.Marshal(t)
	b, err2 := json.Marshal(other)
	if err1 != nil || err2 != nil {
		return false
	}
	return string(a) == string(b)
}

// NewTransaction creates a locally-originated record with a fresh ID and the
// creation timestamp stamped now.
func NewTransaction(userID string, accountID *uuid.UUID, amount int64, category string, date time.Time) Transaction {
	return Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		AccountID: accountID,
		Amount:    amount,
		Category:  category,
		Date:      date,
		CreatedAt: time.Now().UTC(),
	}
}

// ParseTransaction decodes a wire payload into a record. A payload that does
// not carry a valid id is rejected; the caller skips such documents.
func ParseTransaction(payload json.RawMessage) (Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return Transaction{}, fmt.Errorf("failed to parse transaction payload: %w", err)
	}
	if tx.ID == uuid.Nil {
		return Transaction{}, fmt.Errorf("transaction payload missing id")
	}
	return tx, nil
}
