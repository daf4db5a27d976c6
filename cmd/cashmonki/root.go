// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dcardines-design/cashmonki-sub004/sqlitestore"
	"github.com/dcardines-design/cashmonki-sub004/syncserver"
	"github.com/dcardines-design/cashmonki-sub004/txsync"
)

type cliOptions struct {
	dbPath   string
	server   string
	userID   string
	deviceID string
	secret   string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "cashmonki",
		Short:         "Personal-finance ledger with cloud sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "cashmonki.db", "path to the local SQLite ledger")
	root.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "sync server base URL")
	root.PersistentFlags().StringVar(&opts.userID, "user", "", "user id")
	root.PersistentFlags().StringVar(&opts.deviceID, "device", "", "device id (defaults to a generated one)")
	root.PersistentFlags().StringVar(&opts.secret, "secret", "", "shared JWT secret (dev only)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newAddCmd(opts),
		newListCmd(opts),
		newRemoveCmd(opts),
		newSyncCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newWipeRemoteCmd(opts),
	)
	return root
}

// openStore opens the local ledger and makes sure a default account exists so
// inbound records with a null account id always have somewhere to land.
func openStore(opts *cliOptions) (*sqlitestore.Store, *sql.DB, error) {
	db, err := sql.Open("sqlite3", opts.dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", opts.dbPath, err)
	}
	store, err := sqlitestore.Open(db, slog.Default())
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if _, ok := store.DefaultAccountID(); !ok {
		if err := store.CreateAccount(uuid.New(), "Cash"); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return store, db, nil
}

// openService wires store, remote client and sync service together.
func openService(opts *cliOptions) (*txsync.Service, *sql.DB, error) {
	if opts.userID == "" {
		return nil, nil, fmt.Errorf("--user is required")
	}
	if opts.secret == "" {
		return nil, nil, fmt.Errorf("--secret is required")
	}
	if opts.deviceID == "" {
		opts.deviceID = uuid.NewString()
	}

	store, db, err := openStore(opts)
	if err != nil {
		return nil, nil, err
	}

	auth := syncserver.NewJWTAuth(opts.secret)
	remote := txsync.NewHTTPRemote(opts.server, func(ctx context.Context) (string, error) {
		return auth.GenerateToken(opts.userID, opts.deviceID, time.Hour)
	})
	svc := txsync.New(store, remote, opts.userID, opts.deviceID, nil, slog.Default())
	return svc, db, nil
}

func newAddCmd(opts *cliOptions) *cobra.Command {
	var (
		amount   int64
		category string
		merchant string
		note     string
		dateStr  string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a transaction (negative amount = expense, in cents)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, err := openService(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			date := time.Now()
			if dateStr != "" {
				if date, err = time.Parse("2006-01-02", dateStr); err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}

			tx := txsync.NewTransaction(opts.userID, nil, amount, category, date)
			tx.Merchant = merchant
			tx.Note = note
			svc.Add(cmd.Context(), tx)
			fmt.Println(tx.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&amount, "amount", 0, "signed amount in cents")
	cmd.Flags().StringVar(&category, "category", "uncategorized", "category label")
	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant name")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	cmd.Flags().StringVar(&dateStr, "date", "", "occurrence date (YYYY-MM-DD, default today)")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func newListCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the local ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := openStore(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			for _, tx := range store.All() {
				fmt.Printf("%s  %s  %10.2f  %-16s %s\n",
					tx.ID, tx.Date.Format("2006-01-02"), float64(tx.Amount)/100,
					tx.Category, tx.Merchant)
			}
			return nil
		},
	}
}

func newRemoveCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
			svc, db, err := openService(opts)
			if err != nil {
				return err
			}
			defer db.Close()
			svc.Remove(cmd.Context(), id)
			return nil
		},
	}
}

func newSyncCmd(opts *cliOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a push-then-pull reconciliation pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, err := openService(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			if full {
				err = svc.FullResync(cmd.Context())
			} else {
				err = svc.Sync(cmd.Context())
			}
			if err != nil {
				return err
			}
			fmt.Println(svc.Status())
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "push the entire local ledger, not just pending changes")
	return cmd
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, err := openService(opts)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Println(svc.Status())
			return nil
		},
	}
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow the change feed and print the ledger as it converges",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, err := openService(opts)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc.Start(ctx)
			defer svc.Stop()
			svc.OnResume(ctx)

			fmt.Println("watching; ctrl-c to stop")
			<-ctx.Done()
			return nil
		},
	}
}

func newWipeRemoteCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "wipe-remote",
		Short: "Delete every remote transaction for this user (account deletion)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, db, err := openService(opts)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := svc.DeleteAllRemote(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("remote transactions cleared")
			return nil
		},
	}
}
