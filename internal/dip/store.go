package dip

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DataStore persists DataInfo bookkeeping so a master can reload version
// state after a restart. This is bookkeeping the DIP owns for its own
// correctness, not application data: it never stores task inputs/outputs,
// keeping the "no persistence beyond the profile" non-goal intact for
// anything the application itself produces.
//
// Modeled on the Store interface in internal/state/interfaces.go,
// generalized from job/task records to DataInfo/DataVersion snapshots.
type DataStore interface {
	PutDataInfo(ctx context.Context, snap DataInfoSnapshot) error
	GetDataInfo(ctx context.Context, id DataID) (DataInfoSnapshot, bool, error)
	ListDataInfo(ctx context.Context) ([]DataInfoSnapshot, error)
	DeleteDataInfo(ctx context.Context, id DataID) error
}

// DataInfoSnapshot is the serializable projection of a DataInfo used for
// persistence, mirroring how internal/state/postgres_store.go marshals
// Inputs/Dependencies to JSON columns.
type DataInfoSnapshot struct {
	ID               DataID                   `json:"id"`
	Kind             Kind                     `json:"kind"`
	CurrentVersionID VersionID                `json:"current_version_id"`
	Versions         map[VersionID]*DataVersion `json:"versions"`
	Cancelled        map[VersionID]bool       `json:"cancelled"`
	DeletionBlocks   int                      `json:"deletion_blocks"`
	Deleted          bool                     `json:"deleted"`
}

func Snapshot(info *DataInfo) DataInfoSnapshot {
	return DataInfoSnapshot{
		ID:               info.ID,
		Kind:             info.Kind,
		CurrentVersionID: info.CurrentVersionID,
		Versions:         info.Versions,
		Cancelled:        info.Cancelled,
		DeletionBlocks:   info.DeletionBlocks,
		Deleted:          info.Deleted,
	}
}

func Restore(snap DataInfoSnapshot, owner DataOwner) *DataInfo {
	info := &DataInfo{
		ID:               snap.ID,
		Kind:             snap.Kind,
		Owner:            owner,
		CurrentVersionID: snap.CurrentVersionID,
		Versions:         snap.Versions,
		Cancelled:        snap.Cancelled,
		DeletionBlocks:   snap.DeletionBlocks,
		Deleted:          snap.Deleted,
	}
	if info.Versions == nil {
		info.Versions = make(map[VersionID]*DataVersion)
	}
	if info.Cancelled == nil {
		info.Cancelled = make(map[VersionID]bool)
	}
	return info
}

// MemoryDataStore is the default DataStore, grounded on
// internal/state/memory_store.go's sync.Mutex-guarded map style.
type MemoryDataStore struct {
	mu   sync.Mutex
	data map[DataID]DataInfoSnapshot
}

func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{data: make(map[DataID]DataInfoSnapshot)}
}

func (s *MemoryDataStore) PutDataInfo(_ context.Context, snap DataInfoSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snap.ID] = cloneSnapshot(snap)
	return nil
}

func (s *MemoryDataStore) GetDataInfo(_ context.Context, id DataID) (DataInfoSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data[id]
	if !ok {
		return DataInfoSnapshot{}, false, nil
	}
	return cloneSnapshot(snap), true, nil
}

func (s *MemoryDataStore) ListDataInfo(_ context.Context) ([]DataInfoSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DataInfoSnapshot, 0, len(s.data))
	for _, snap := range s.data {
		out = append(out, cloneSnapshot(snap))
	}
	return out, nil
}

func (s *MemoryDataStore) DeleteDataInfo(_ context.Context, id DataID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func cloneSnapshot(snap DataInfoSnapshot) DataInfoSnapshot {
	b, err := json.Marshal(snap)
	if err != nil {
		// snapshots are plain data; a marshal failure here means a bug in
		// this package, not a runtime condition callers can act on.
		panic(fmt.Sprintf("dip: snapshot clone failed: %v", err))
	}
	var out DataInfoSnapshot
	if err := json.Unmarshal(b, &out); err != nil {
		panic(fmt.Sprintf("dip: snapshot clone failed: %v", err))
	}
	return out
}
