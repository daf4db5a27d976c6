// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

// Package syncserver is the reference cloud backend for cashmonki clients: a
// per-user transaction document store on Postgres with a JSON HTTP API and a
// websocket change feed. Each mutation is written to the store, invalidates
// the user's fetch cache and is broadcast to the user's feed subscribers with
// the writing device's source id attached.
package syncserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dcardines-design/cashmonki-sub004/txsync"
)

// Service owns the Postgres document store and the change-feed hub.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	cache  *fetchCache
	hub    *FeedHub
}

// NewService initializes the schema and returns a ready service.
func NewService(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := newFetchCache()
	if err != nil {
		return nil, err
	}
	s := &Service{
		pool:   pool,
		logger: logger.With("component", "syncserver"),
		cache:  cache,
		hub:    NewFeedHub(logger),
	}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Hub exposes the change-feed hub for the websocket handler.
func (s *Service) Hub() *FeedHub { return s.hub }

func (s *Service) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS cm_transactions (
				user_id    TEXT NOT NULL,
				id         UUID NOT NULL,
				payload    JSONB NOT NULL,
				date       TIMESTAMPTZ NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (user_id, id)
			)`)
		if err != nil {
			return fmt.Errorf("failed to create cm_transactions: %w", err)
		}
		_, err = tx.Exec(ctx, `
			CREATE INDEX IF NOT EXISTS cm_transactions_user_date
			ON cm_transactions (user_id, date DESC)`)
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
		return nil
	})
}

// Upsert stores one transaction document, replacing the prior field set
// wholesale. sourceID identifies the writing device for feed echo filtering.
func (s *Service) Upsert(ctx context.Context, userID, sourceID string, tx txsync.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to marshal transaction: %w", err)
	}

	var existed bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM cm_transactions WHERE user_id = $1 AND id = $2)
	`, userID, tx.ID).Scan(&existed)
	if err != nil {
		return fmt.Errorf("failed to check existing transaction: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO cm_transactions (user_id, id, payload, date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id, id) DO UPDATE SET
			payload = EXCLUDED.payload,
			date = EXCLUDED.date,
			updated_at = now()
	`, userID, tx.ID, payload, tx.Date, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert transaction: %w", err)
	}

	s.cache.invalidate(userID)
	kind := txsync.ChangeAdded
	if existed {
		kind = txsync.ChangeModified
	}
	s.hub.Broadcast(userID, []txsync.ChangeEvent{{
		Kind:     kind,
		ID:       tx.ID,
		Payload:  payload,
		SourceID: sourceID,
	}})
	return nil
}

// Delete removes one document. Deleting an absent document succeeds and emits
// no feed event, which keeps client retries idempotent.
func (s *Service) Delete(ctx context.Context, userID, sourceID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM cm_transactions WHERE user_id = $1 AND id = $2
	`, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	s.cache.invalidate(userID)
	s.hub.Broadcast(userID, []txsync.ChangeEvent{{
		Kind:     txsync.ChangeRemoved,
		ID:       id,
		SourceID: sourceID,
	}})
	return nil
}

// FetchAll returns every document for the user ordered by occurrence date
// descending. Results are served from the per-user cache until the next
// mutation invalidates it.
func (s *Service) FetchAll(ctx context.Context, userID string) ([]json.RawMessage, error) {
	if cached, ok := s.cache.get(userID); ok {
		return cached, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM cm_transactions
		WHERE user_id = $1
		ORDER BY date DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan payload: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	s.cache.set(userID, out)
	return out, nil
}

// ClearAll wipes the user's collection (account deletion). Feed subscribers
// receive one Removed event per deleted document.
func (s *Service) ClearAll(ctx context.Context, userID, sourceID string) error {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM cm_transactions WHERE user_id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating ids: %w", err)
	}

	if _, err := s.pool.Exec(ctx, `DELETE FROM cm_transactions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear transactions: %w", err)
	}

	s.cache.invalidate(userID)
	if len(ids) > 0 {
		events := make([]txsync.ChangeEvent, 0, len(ids))
		for _, id := range ids {
			events = append(events, txsync.ChangeEvent{
				Kind:     txsync.ChangeRemoved,
				ID:       id,
				SourceID: sourceID,
			})
		}
		s.hub.Broadcast(userID, events)
	}
	s.logger.Info("cleared user transactions", "user_id", userID, "count", len(ids))
	return nil
}

// Close releases the cache; the pool is owned by the caller.
func (s *Service) Close() {
	s.cache.close()
	s.hub.Close()
}
