// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package syncserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dcardines-design/cashmonki-sub004/txsync"
)

type ctxKey int

const claimsKey ctxKey = 0

// Handlers exposes the sync HTTP API.
type Handlers struct {
	service *Service
	auth    *JWTAuth
	logger  *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(service *Service, auth *JWTAuth, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, auth: auth, logger: logger.With("component", "http")}
}

// Router builds the chi router for the sync API.
func (h *Handlers) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Route("/v1", func(r chi.Router) {
		r.Use(h.authMiddleware)
		r.Get("/transactions", h.handleFetchAll)
		r.Put("/transactions/{id}", h.handleUpsert)
		r.Delete("/transactions/{id}", h.handleDelete)
		r.Delete("/transactions", h.handleClearAll)
		r.Get("/feed", h.handleFeed)
	})
	return r
}

func (h *Handlers) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := h.auth.FromRequest(r)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}

func requestClaims(r *http.Request) *Claims {
	claims, _ := r.Context().Value(claimsKey).(*Claims)
	return claims
}

func (h *Handlers) handleUpsert(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid transaction id")
		return
	}

	var tx txsync.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse transaction")
		return
	}
	if tx.ID != id {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "body id does not match path id")
		return
	}
	tx.UserID = claims.Subject

	if err := h.service.Upsert(r.Context(), claims.Subject, claims.DeviceID, tx); err != nil {
		h.logger.Error("upsert failed", "error", err, "user_id", claims.Subject, "id", id)
		h.writeError(w, http.StatusInternalServerError, "upsert_failed", "failed to store transaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleDelete(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "invalid transaction id")
		return
	}

	if err := h.service.Delete(r.Context(), claims.Subject, claims.DeviceID, id); err != nil {
		h.logger.Error("delete failed", "error", err, "user_id", claims.Subject, "id", id)
		h.writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete transaction")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleFetchAll(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)

	payloads, err := h.service.FetchAll(r.Context(), claims.Subject)
	if err != nil {
		h.logger.Error("fetch failed", "error", err, "user_id", claims.Subject)
		h.writeError(w, http.StatusInternalServerError, "fetch_failed", "failed to fetch transactions")
		return
	}
	if payloads == nil {
		payloads = []json.RawMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payloads); err != nil {
		h.logger.Error("failed to encode response", "error", err, "user_id", claims.Subject)
	}
}

func (h *Handlers) handleClearAll(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)

	if err := h.service.ClearAll(r.Context(), claims.Subject, claims.DeviceID); err != nil {
		h.logger.Error("clear failed", "error", err, "user_id", claims.Subject)
		h.writeError(w, http.StatusInternalServerError, "clear_failed", "failed to clear transactions")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFeed upgrades to a websocket and streams change-event batches until
// the client goes away.
func (h *Handlers) handleFeed(w http.ResponseWriter, r *http.Request) {
	claims := requestClaims(r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", "error", err, "user_id", claims.Subject)
		return
	}

	sub := h.service.Hub().Subscribe(claims.Subject)
	defer h.service.Hub().Unsubscribe(sub)
	defer conn.Close(websocket.StatusNormalClosure, "feed closed")

	// The feed is write-only. CloseRead keeps a reader pumping control
	// frames and cancels the context when the client disconnects; after the
	// Accept hijack, r.Context() alone would not notice a dropped peer and
	// an idle subscriber would park here forever.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-sub.C():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, batch); err != nil {
				h.logger.Debug("feed write failed, dropping subscriber",
					"error", err, "user_id", claims.Subject)
				return
			}
		}
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   errCode,
		"message": message,
	})
}
