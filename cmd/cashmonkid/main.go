// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

// cashmonkid is the cashmonki sync backend: a per-user transaction document
// store with a JSON API and a websocket change feed.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/dcardines-design/cashmonki-sub004/syncserver"
)

type config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string
}

func loadConfig() config {
	// Load .env file if present
	_ = godotenv.Load()

	cfg := config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
	}
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := loadConfig()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create connection pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	service, err := syncserver.NewService(ctx, pool, logger)
	if err != nil {
		logger.Error("failed to initialize sync service", "error", err)
		os.Exit(1)
	}
	defer service.Close()

	handlers := syncserver.NewHandlers(service, syncserver.NewJWTAuth(cfg.JWTSecret), logger)

	logger.Info("cashmonkid listening", "port", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, handlers.Router()); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
