package dip

import "testing"

func TestDirectionIsWriteIsRead(t *testing.T) {
	cases := []struct {
		dir   Direction
		write bool
		read  bool
	}{
		{DirR, false, true},
		{DirW, true, false},
		{DirRW, true, true},
		{DirC, false, true},
		{DirCV, true, false},
	}
	for _, c := range cases {
		if got := c.dir.IsWrite(); got != c.write {
			t.Fatalf("%v.IsWrite() = %v, want %v", c.dir, got, c.write)
		}
		if got := c.dir.IsRead(); got != c.read {
			t.Fatalf("%v.IsRead() = %v, want %v", c.dir, got, c.read)
		}
	}
}

func TestDataInstanceIDRenaming(t *testing.T) {
	id := DataInstanceID{DataID: 7, VersionID: 3}
	if got, want := id.Renaming(), "d7v3"; got != want {
		t.Fatalf("Renaming() = %q, want %q", got, want)
	}
}

func TestAccessIDInstanceAccessors(t *testing.T) {
	info := NewDataInfo(1, KindFile, nil)
	acc, err := WillAccess(info, DirRW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	read, ok := acc.ReadInstance()
	if !ok || read.VersionID != 1 {
		t.Fatalf("expected read instance at version 1, got %+v ok=%v", read, ok)
	}
	write, ok := acc.WriteInstance()
	if !ok || write.VersionID != 2 {
		t.Fatalf("expected write instance at version 2, got %+v ok=%v", write, ok)
	}

	readOnly, err := WillAccess(NewDataInfo(2, KindFile, nil), DirR)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	if _, ok := readOnly.WriteInstance(); ok {
		t.Fatalf("expected a read-only access to have no write instance")
	}
}

func TestDataVersionLive(t *testing.T) {
	v := &DataVersion{}
	if v.Live() {
		t.Fatalf("expected a fresh version with no pending access to not be live")
	}
	v.PendingReads = 1
	if !v.Live() {
		t.Fatalf("expected a version with a pending read to be live")
	}
}
