package core

import "context"

// SnapshotStore persists replica snapshots keyed by participant code.
type SnapshotStore interface {
	// Save replaces the stored snapshot for s.PCode
	Save(ctx context.Context, s Snapshot) error
	// Load returns ErrSnapshotNotFound when nothing was saved for pcode
	Load(ctx context.Context, pcode string) (Snapshot, error)
	// Delete removes the snapshot for pcode, if any
	Delete(ctx context.Context, pcode string) error
}
