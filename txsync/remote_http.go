// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// HTTPRemote talks to the cashmonki sync server over its JSON API. The change
// feed rides a websocket; everything else is plain request/response. Token is
// called per request so short-lived JWTs refresh transparently.
type HTTPRemote struct {
	BaseURL string
	Token   func(context.Context) (string, error) // returns a bearer JWT
	HTTP    *http.Client
}

// NewHTTPRemote creates a remote client for the given server base URL.
func NewHTTPRemote(baseURL string, token func(context.Context) (string, error)) *HTTPRemote {
	return &HTTPRemote{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	token, err := r.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(b))
	}
	return resp, nil
}

// Upsert writes one transaction document.
func (r *HTTPRemote) Upsert(ctx context.Context, userID string, tx Transaction) error {
	resp, err := r.do(ctx, http.MethodPut, "/v1/transactions/"+tx.ID.String(), tx)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete removes one transaction document. Deleting an absent document is not
// an error on the server, which keeps retried deletes idempotent.
func (r *HTTPRemote) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	resp, err := r.do(ctx, http.MethodDelete, "/v1/transactions/"+id.String(), nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// FetchAll retrieves the user's complete transaction set.
func (r *HTTPRemote) FetchAll(ctx context.Context, userID string) ([]Transaction, error) {
	resp, err := r.do(ctx, http.MethodGet, "/v1/transactions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out []Transaction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return out, nil
}

// ClearAll wipes the user's remote collection.
func (r *HTTPRemote) ClearAll(ctx context.Context, userID string) error {
	resp, err := r.do(ctx, http.MethodDelete, "/v1/transactions", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Subscribe opens the websocket change feed. Establishment failure returns
// ErrListenerUnavailable; after that, batches are delivered on the
// subscription channel until teardown. The reader goroutine owns the
// connection and closes the channel when the feed ends.
func (r *HTTPRemote) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	token, err := r.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrListenerUnavailable, err)
	}

	feedCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(feedCtx, r.BaseURL+"/v1/feed", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrListenerUnavailable, err)
	}

	ch := make(chan []ChangeEvent, 16)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		for {
			var batch []ChangeEvent
			if err := wsjson.Read(feedCtx, conn, &batch); err != nil {
				return
			}
			select {
			case ch <- batch:
			case <-feedCtx.Done():
				return
			}
		}
	}()

	return NewSubscription(ch, cancel), nil
}
