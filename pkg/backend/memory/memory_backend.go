package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/erain9/marketreplica/pkg/core"
)

// MemoryBackend implements core.SnapshotStore in process memory. Snapshots
// are stored encoded so callers never share slices or maps with the store.
type MemoryBackend struct {
	sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryBackend creates a new in-memory snapshot store
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		snapshots: make(map[string][]byte),
	}
}

// Save replaces the snapshot for s.PCode
func (b *MemoryBackend) Save(ctx context.Context, s core.Snapshot) error {
	if s.PCode == "" {
		return fmt.Errorf("snapshot without pcode: %w", core.ErrInvalidArgument)
	}
	data, err := s.Marshal()
	if err != nil {
		return err
	}

	b.Lock()
	defer b.Unlock()
	b.snapshots[s.PCode] = data
	return nil
}

// Load returns the snapshot for pcode
func (b *MemoryBackend) Load(ctx context.Context, pcode string) (core.Snapshot, error) {
	b.RLock()
	data, ok := b.snapshots[pcode]
	b.RUnlock()
	if !ok {
		return core.Snapshot{}, fmt.Errorf("pcode %s: %w", pcode, core.ErrSnapshotNotFound)
	}
	return core.UnmarshalSnapshot(data)
}

// Delete removes the snapshot for pcode
func (b *MemoryBackend) Delete(ctx context.Context, pcode string) error {
	b.Lock()
	defer b.Unlock()
	delete(b.snapshots, pcode)
	return nil
}

// PCodes lists the participants with a stored snapshot, sorted
func (b *MemoryBackend) PCodes() []string {
	b.RLock()
	defer b.RUnlock()
	out := make([]string, 0, len(b.snapshots))
	for k := range b.snapshots {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var _ core.SnapshotStore = (*MemoryBackend)(nil)
