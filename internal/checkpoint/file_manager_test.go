package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileCheckpointManagerChainsHashes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint.jsonl")
	m, err := NewFileCheckpointManager(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	m.NewTask(ctx, 1, 10, "app-1")
	m.EndTask(ctx, 1, "FINISHED")
	m.MainAccess(ctx, 5, "d5v2")
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var events []event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		events = append(events, e)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].PrevHash != "" {
		t.Fatalf("expected first event to have no prev hash")
	}
	for i := 1; i < len(events); i++ {
		if events[i].PrevHash != events[i-1].Hash {
			t.Fatalf("event %d prev_hash does not match event %d hash", i, i-1)
		}
	}
	recomputed := computeEventHash(event{
		Seq: events[1].Seq, Kind: events[1].Kind, TaskID: events[1].TaskID,
		State: events[1].State, CreatedAt: events[1].CreatedAt, PrevHash: events[1].PrevHash,
	})
	if recomputed != events[1].Hash {
		t.Fatalf("recomputed hash does not match stored hash")
	}
}
