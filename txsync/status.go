// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

import (
	"fmt"
	"time"
)

// StatusKind enumerates the five mutually exclusive sync states.
type StatusKind int

const (
	StatusNotSynced StatusKind = iota
	StatusSynced
	StatusPendingChanges
	StatusError
	StatusSyncing
)

// Status is the derived, non-persisted sync state shown to the user. It is a
// pure projection over the in-flight flag, the last error, the pending count
// and the last successful sync time, with display precedence
// syncing > error > pendingChanges > synced > notSynced.
type Status struct {
	Kind         StatusKind
	LastSyncedAt time.Time // set for StatusSynced
	PendingCount int       // set for StatusPendingChanges
	Message      string    // set for StatusError
}

// deriveStatus projects the raw fields into a single display state.
func deriveStatus(syncing bool, errMsg string, pending int, lastSync time.Time) Status {
	switch {
	case syncing:
		return Status{Kind: StatusSyncing}
	case errMsg != "":
		return Status{Kind: StatusError, Message: errMsg}
	case pending > 0:
		return Status{Kind: StatusPendingChanges, PendingCount: pending}
	case !lastSync.IsZero():
		return Status{Kind: StatusSynced, LastSyncedAt: lastSync}
	default:
		return Status{Kind: StatusNotSynced}
	}
}

func (s Status) String() string {
	switch s.Kind {
	case StatusSyncing:
		return "syncing"
	case StatusError:
		return "error: " + s.Message
	case StatusPendingChanges:
		return fmt.Sprintf("%d pending changes", s.PendingCount)
	case StatusSynced:
		return "synced at " + s.LastSyncedAt.Format(time.RFC3339)
	default:
		return "not synced"
	}
}
