// Copyright 2025 Dan Cardines
// SPDX-License-Identifier: Apache-2.0

package txsync

// Resolver picks a winner between two differing copies of the same
// transaction id during the pull merge.
type Resolver interface {
	// Resolve returns the copy to keep. Both arguments carry the same ID and
	// are known to differ in content.
	Resolve(local, remote Transaction) Transaction
}

// LastWriteWinsResolver keeps the copy with the greater creation timestamp.
// Equal timestamps favor the remote copy, since remote is the convergence
// point every device observes.
type LastWriteWinsResolver struct{}

func (LastWriteWinsResolver) Resolve(local, remote Transaction) Transaction {
	if local.CreatedAt.After(remote.CreatedAt) {
		return local
	}
	return remote
}
