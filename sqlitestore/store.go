// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

// Package sqlitestore persists the device-local transaction collection in
// SQLite. The collection is held in memory as the working set and written
// through to disk on every mutation, so reads never touch the database and
// the sync core's atomic-swap semantics hold even when a write-through fails
// mid-batch (the table rewrite runs in a single transaction).
package sqlitestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/dcardines-design/cashmonki-sub004/txsync"
)

// Store is a SQLite-backed txsync.LocalStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	mu         sync.RWMutex
	txs        map[uuid.UUID]txsync.Transaction
	defaultAcc *uuid.UUID
	observers  []func()
}

// Open initializes the schema and loads the working set into memory.
func Open(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := initializeSchema(db); err != nil {
		return nil, err
	}
	s := &Store{
		db:     db,
		logger: logger.With("component", "sqlitestore"),
		txs:    make(map[uuid.UUID]txsync.Transaction),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func initializeSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			is_default  INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			account_id      TEXT,
			amount          INTEGER NOT NULL,
			category        TEXT NOT NULL DEFAULT '',
			date            TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			merchant        TEXT NOT NULL DEFAULT '',
			note            TEXT NOT NULL DEFAULT '',
			payment_method  TEXT NOT NULL DEFAULT '',
			items           TEXT
		)`,
	}
	for _, table := range tables {
		if _, err := db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`
		SELECT id, user_id, account_id, amount, category, date, created_at,
		       merchant, note, payment_method, items
		FROM transactions`)
	if err != nil {
		return fmt.Errorf("failed to load transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return err
		}
		s.txs[tx.ID] = tx
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating transactions: %w", err)
	}

	var defID string
	err = s.db.QueryRow(`SELECT id FROM accounts WHERE is_default = 1 LIMIT 1`).Scan(&defID)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to load default account: %w", err)
	default:
		id, err := uuid.Parse(defID)
		if err != nil {
			return fmt.Errorf("invalid default account id %q: %w", defID, err)
		}
		s.defaultAcc = &id
	}
	return nil
}

func scanTransaction(rows *sql.Rows) (txsync.Transaction, error) {
	var (
		tx                  txsync.Transaction
		id, date, createdAt string
		accountID, items    sql.NullString
	)
	if err := rows.Scan(&id, &tx.UserID, &accountID, &tx.Amount, &tx.Category,
		&date, &createdAt, &tx.Merchant, &tx.Note, &tx.PaymentMethod, &items); err != nil {
		return txsync.Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return txsync.Transaction{}, fmt.Errorf("invalid transaction id %q: %w", id, err)
	}
	tx.ID = parsed

	if accountID.Valid {
		acc, err := uuid.Parse(accountID.String)
		if err != nil {
			return txsync.Transaction{}, fmt.Errorf("invalid account id %q: %w", accountID.String, err)
		}
		tx.AccountID = &acc
	}
	if tx.Date, err = time.Parse(time.RFC3339Nano, date); err != nil {
		return txsync.Transaction{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return txsync.Transaction{}, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
	}
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &tx.Items); err != nil {
			return txsync.Transaction{}, fmt.Errorf("invalid items payload: %w", err)
		}
	}
	return tx, nil
}

// CreateAccount inserts an account; the first account created becomes the
// default automatically.
func (s *Store) CreateAccount(id uuid.UUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	makeDefault := s.defaultAcc == nil
	isDef := 0
	if makeDefault {
		isDef = 1
	}
	if _, err := s.db.Exec(`INSERT INTO accounts (id, name, is_default) VALUES (?, ?, ?)`,
		id.String(), name, isDef); err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	if makeDefault {
		s.defaultAcc = &id
	}
	return nil
}

// SetDefaultAccount switches which account backfills null account ids.
func (s *Store) SetDefaultAccount(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE accounts SET is_default = 0`); err != nil {
		return fmt.Errorf("failed to clear default flag: %w", err)
	}
	res, err := tx.Exec(`UPDATE accounts SET is_default = 1 WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to set default flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s not found", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.defaultAcc = &id
	return nil
}

func (s *Store) DefaultAccountID() (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.defaultAcc == nil {
		return uuid.Nil, false
	}
	return *s.defaultAcc, true
}

// All returns the working set ordered by occurrence date descending.
func (s *Store) All() []txsync.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]txsync.Transaction, 0, len(s.txs))
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

func (s *Store) Get(id uuid.UUID) (txsync.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[id]
	return tx, ok
}

func (s *Store) Insert(tx txsync.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.ID] = tx
	s.writeThrough(tx)
}

func (s *Store) Replace(tx txsync.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[tx.ID] = tx
	s.writeThrough(tx)
}

func (s *Store) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.txs, id)
	if _, err := s.db.Exec(`DELETE FROM transactions WHERE id = ?`, id.String()); err != nil {
		s.logger.Error("failed to delete transaction row", "id", id, "error", err)
	}
}

// ReplaceAll swaps the whole collection and rewrites the table in a single
// transaction so the on-disk state matches the swap atomically.
func (s *Store) ReplaceAll(txs []txsync.Transaction) {
	next := make(map[uuid.UUID]txsync.Transaction, len(txs))
	for _, tx := range txs {
		next[tx.ID] = tx
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = next

	dbTx, err := s.db.Begin()
	if err != nil {
		s.logger.Error("failed to begin rewrite transaction", "error", err)
		return
	}
	defer dbTx.Rollback()
	if _, err := dbTx.Exec(`DELETE FROM transactions`); err != nil {
		s.logger.Error("failed to clear transactions table", "error", err)
		return
	}
	for _, tx := range txs {
		if err := upsertIn(dbTx, tx); err != nil {
			s.logger.Error("failed to rewrite transaction row", "id", tx.ID, "error", err)
			return
		}
	}
	if err := dbTx.Commit(); err != nil {
		s.logger.Error("failed to commit rewrite", "error", err)
	}
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *Store) writeThrough(tx txsync.Transaction) {
	if err := upsertIn(s.db, tx); err != nil {
		s.logger.Error("failed to persist transaction row", "id", tx.ID, "error", err)
	}
}

func upsertIn(db execer, tx txsync.Transaction) error {
	var accountID any
	if tx.AccountID != nil {
		accountID = tx.AccountID.String()
	}
	var items any
	if len(tx.Items) > 0 {
		b, err := json.Marshal(tx.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal items: %w", err)
		}
		items = string(b)
	}
	_, err := db.Exec(`
		INSERT INTO transactions (id, user_id, account_id, amount, category, date,
		                          created_at, merchant, note, payment_method, items)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			account_id = excluded.account_id,
			amount = excluded.amount,
			category = excluded.category,
			date = excluded.date,
			created_at = excluded.created_at,
			merchant = excluded.merchant,
			note = excluded.note,
			payment_method = excluded.payment_method,
			items = excluded.items`,
		tx.ID.String(), tx.UserID, accountID, tx.Amount, tx.Category,
		tx.Date.UTC().Format(time.RFC3339Nano), tx.CreatedAt.UTC().Format(time.RFC3339Nano),
		tx.Merchant, tx.Note, tx.PaymentMethod, items)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction row: %w", err)
	}
	return nil
}

// Observe registers a callback fired once per settled batch of mutations.
func (s *Store) Observe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) NotifyChanged() {
	s.mu.RLock()
	observers := make([]func(), len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn()
	}
}
