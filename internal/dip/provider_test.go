package dip

import "testing"

type fakeOwner struct {
	unregistered []DataID
}

func (o *fakeOwner) RegisterData(info *DataInfo) {}
func (o *fakeOwner) UnregisterData(id DataID)    { o.unregistered = append(o.unregistered, id) }

func TestWillAccessWriteAdvancesVersion(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	acc, err := WillAccess(info, DirW)
	if err != nil {
		t.Fatalf("willAccess write: %v", err)
	}
	if info.CurrentVersionID != 2 {
		t.Fatalf("expected current version 2 after a write, got %d", info.CurrentVersionID)
	}
	if !acc.HasWrite || acc.WriteVersion != 2 {
		t.Fatalf("expected access to carry write version 2, got %+v", acc)
	}
}

func TestWillAccessReadOnFreshDataUsesVersionOne(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	acc, err := WillAccess(info, DirR)
	if err != nil {
		t.Fatalf("willAccess read: %v", err)
	}
	if !acc.HasRead || acc.ReadVersion != 1 {
		t.Fatalf("expected read against version 1, got %+v", acc)
	}
	if info.Versions[1].PendingReads != 1 {
		t.Fatalf("expected version 1 to have one pending read")
	}
}

func TestWillAccessReadWriteChainsPredecessor(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	acc, err := WillAccess(info, DirRW)
	if err != nil {
		t.Fatalf("willAccess rw: %v", err)
	}
	if acc.ReadVersion != 1 || acc.WriteVersion != 2 {
		t.Fatalf("expected rw access to read v1 and write v2, got %+v", acc)
	}
	next := info.Versions[2]
	if !next.HasPred || next.Predecessor != 1 {
		t.Fatalf("expected version 2 to record version 1 as predecessor, got %+v", next)
	}
}

func TestCommittedAccessReleasesSupersededVersion(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	first, err := WillAccess(info, DirW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	CommittedAccess(first)
	second, err := WillAccess(info, DirW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	CommittedAccess(second)
	if _, ok := info.Versions[first.WriteVersion]; ok {
		t.Fatalf("expected superseded version %d to be released", first.WriteVersion)
	}
	if _, ok := info.Versions[second.WriteVersion]; !ok {
		t.Fatalf("expected current version %d to remain", second.WriteVersion)
	}
}

func TestCommittedAccessIsIdempotent(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	acc, err := WillAccess(info, DirRW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	CommittedAccess(acc)
	pendingBefore := info.Versions[acc.WriteVersion].PendingWrites
	CommittedAccess(acc)
	pendingAfter := info.Versions[acc.WriteVersion].PendingWrites
	if pendingAfter != pendingBefore {
		t.Fatalf("expected a second CommittedAccess call to be a no-op, got PendingWrites %d -> %d", pendingBefore, pendingAfter)
	}
}

func TestCancelledAccessRewindsWithoutKeepModified(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	acc, err := WillAccess(info, DirW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	CancelledAccess(acc, false)
	if info.CurrentVersionID != 1 {
		t.Fatalf("expected rewind to version 1 after a cancelled write, got %d", info.CurrentVersionID)
	}
	if !info.Cancelled[2] {
		t.Fatalf("expected version 2 to be marked cancelled")
	}
}

func TestCancelledAccessKeepModifiedLeavesCurrentVersion(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	acc, err := WillAccess(info, DirW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	CancelledAccess(acc, true)
	if info.CurrentVersionID != 2 {
		t.Fatalf("expected keepModified to leave version 2 current, got %d", info.CurrentVersionID)
	}
	if info.Cancelled[2] {
		t.Fatalf("expected version 2 to not be marked cancelled under keepModified")
	}
}

func TestAdvanceVersionSkipsCancelledIDs(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	w1, _ := WillAccess(info, DirW) // v2
	CancelledAccess(w1, false)      // v2 cancelled, current rewound to v1
	w2, err := WillAccess(info, DirW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	if w2.WriteVersion != 3 {
		t.Fatalf("expected advanceVersion to skip cancelled version 2 and land on 3, got %d", w2.WriteVersion)
	}
}

func TestDeleteDefersUnregisterUntilVersionsDrain(t *testing.T) {
	owner := &fakeOwner{}
	info := NewDataInfo(1, KindFile, owner)
	Delete(info)
	if len(owner.unregistered) != 0 {
		t.Fatalf("expected owner not yet unregistered while version 1 is still the live current version")
	}
	// simulate every version having already drained (the state Delete
	// expects once the DIP has released the last one via maybeRelease).
	info.Versions = map[VersionID]*DataVersion{}
	Delete(info)
	if len(owner.unregistered) != 1 || owner.unregistered[0] != info.ID {
		t.Fatalf("expected owner to be unregistered once no versions remain, got %v", owner.unregistered)
	}
}

func TestBlockDeletionsDefersPhysicalRemoval(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	read, err := WillAccess(info, DirR) // pending read on v1
	if err != nil {
		t.Fatalf("willAccess read: %v", err)
	}
	if _, err := WillAccess(info, DirW); err != nil { // v2 becomes current
		t.Fatalf("willAccess write: %v", err)
	}
	BlockDeletions(info)
	CommittedAccess(read) // v1 is now unreferenced and no longer current
	if _, ok := info.Versions[1]; !ok {
		t.Fatalf("expected version 1 to survive while deletions are blocked")
	}
	UnblockDeletions(info)
	if _, ok := info.Versions[1]; ok {
		t.Fatalf("expected version 1 removed once deletions unblock")
	}
}
