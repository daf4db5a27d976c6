// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

// cashmonki is a demo command-line client for the sync backend. It keeps a
// local SQLite ledger and reconciles it with the server the same way the
// mobile app does: immediate pushes, a live change feed, and full-sync
// passes for catch-up.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
