// Package snapshot defines the persistence collaborator of the memory
// engine.
//
// The engine defines the snapshot schema (every record plus the
// associative edge list, see memory.Snapshot); the storage format is the
// backend's choice. The engine requires round-trip fidelity only: Load must
// return exactly what Save was given. Backends for SQLite, PostgreSQL and
// MySQL live in subpackages.
package snapshot

import (
	"context"

	"github.com/allma-labs/tiermem-go/pkg/memory"
)

// Store persists and restores engine snapshots.
type Store interface {
	// Save persists the snapshot, replacing any previous one.
	Save(ctx context.Context, snap *memory.Snapshot) error

	// Load returns the last saved snapshot. ok is false when no snapshot
	// has ever been saved; that is not an error.
	Load(ctx context.Context) (snap *memory.Snapshot, ok bool, err error)

	// Close closes the store and releases resources.
	Close() error
}
