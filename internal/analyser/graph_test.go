package analyser

import (
	"testing"

	"github.com/Minimega12121/compss/internal/dip"
)

func readyParam(dataID dip.DataID, dir dip.Direction) Parameter {
	info := dip.NewDataInfo(dataID, dip.KindFile, nil)
	access, err := dip.WillAccess(info, dir)
	if err != nil {
		panic(err)
	}
	return Parameter{Access: access, Direction: dir}
}

func TestRegisterTaskWithNoInputsIsImmediatelyReady(t *testing.T) {
	var readied []TaskID
	a := NewAnalyser(func(id TaskID) { readied = append(readied, id) })

	t1 := a.RegisterTask(1, []Parameter{readyParam(1, dip.DirW)}, 0, nil)
	if t1.State != StateAnalysed {
		t.Fatalf("expected a task with no dependencies to be immediately ANALYSED, got %v", t1.State)
	}
	if len(readied) != 1 || readied[0] != t1.ID {
		t.Fatalf("expected onReady fired for %d, got %v", t1.ID, readied)
	}
}

func TestReadAfterWriteDependsOnWriter(t *testing.T) {
	var readied []TaskID
	a := NewAnalyser(func(id TaskID) { readied = append(readied, id) })

	writeInfo := dip.NewDataInfo(1, dip.KindFile, nil)
	writeAccess, err := dip.WillAccess(writeInfo, dip.DirW)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	writer := a.RegisterTask(1, []Parameter{{Access: writeAccess, Direction: dip.DirW}}, 0, nil)
	readied = nil // clear the writer's own immediate-ready notification

	readAccess, err := dip.WillAccess(writeInfo, dip.DirR)
	if err != nil {
		t.Fatalf("willAccess: %v", err)
	}
	reader := a.RegisterTask(2, []Parameter{{Access: readAccess, Direction: dip.DirR}}, 0, nil)

	if reader.State != StateToAnalyse {
		t.Fatalf("expected reader to wait on writer, got state %v", reader.State)
	}
	if reader.Ready() {
		t.Fatalf("expected reader.Ready() == false before the writer finishes")
	}

	a.NotifyTaskEnd(writer.ID, StateFinished)
	if !reader.Ready() {
		t.Fatalf("expected reader ready once writer finishes")
	}
	if len(readied) != 1 || readied[0] != reader.ID {
		t.Fatalf("expected onReady fired once for reader, got %v", readied)
	}
}

func TestConcurrentReadersChainBehindEarlierReaders(t *testing.T) {
	a := NewAnalyser(nil)
	info := dip.NewDataInfo(1, dip.KindFile, nil)
	wAccess, _ := dip.WillAccess(info, dip.DirW)
	writer := a.RegisterTask(1, []Parameter{{Access: wAccess, Direction: dip.DirW}}, 0, nil)

	c1Access, _ := dip.WillAccess(info, dip.DirC)
	c1 := a.RegisterTask(2, []Parameter{{Access: c1Access, Direction: dip.DirC}}, 0, nil)
	c2Access, _ := dip.WillAccess(info, dip.DirC)
	c2 := a.RegisterTask(3, []Parameter{{Access: c2Access, Direction: dip.DirC}}, 0, nil)

	if c1.Ready() || c2.Ready() {
		t.Fatalf("expected neither concurrent reader ready before the writer finishes")
	}
	// c1 depends on the writer; c2 depends on c1, the concurrent reader
	// registered before it, not on the writer.
	a.NotifyTaskEnd(writer.ID, StateFinished)
	if !c1.Ready() {
		t.Fatalf("expected the first concurrent reader ready once the writer finishes")
	}
	if c2.Ready() {
		t.Fatalf("expected the second concurrent reader to still wait on the first")
	}

	// a later concurrent reader depends on the earlier readers, not the
	// writer, once at least one concurrent access has been registered.
	c3Access, _ := dip.WillAccess(info, dip.DirC)
	c3 := a.RegisterTask(4, []Parameter{{Access: c3Access, Direction: dip.DirC}}, 0, nil)
	if c3.Ready() {
		t.Fatalf("expected a new concurrent reader to depend on the still-live concurrent readers")
	}
}

func TestCommutativeWritesToSameGroupDoNotDependOnEachOther(t *testing.T) {
	a := NewAnalyser(nil)
	info := dip.NewDataInfo(1, dip.KindFile, nil)

	cv1Access, _ := dip.WillAccess(info, dip.DirCV)
	cv1 := a.RegisterTask(10, []Parameter{{Access: cv1Access, Direction: dip.DirCV}}, 0, nil)
	if !cv1.Ready() {
		t.Fatalf("expected the first commutative write to be immediately ready")
	}

	cv2Access, _ := dip.WillAccess(info, dip.DirCV)
	cv2 := a.RegisterTask(10, []Parameter{{Access: cv2Access, Direction: dip.DirCV}}, 0, nil)
	if !cv2.Ready() {
		t.Fatalf("expected a second commutative write on the same core+data to join the group and stay ready")
	}

	groupID, isMember := a.memberOfGroup[cv1.ID]
	if !isMember {
		t.Fatalf("expected cv1 to be tracked as a group member")
	}
	if other, ok := a.memberOfGroup[cv2.ID]; !ok || other != groupID {
		t.Fatalf("expected cv1 and cv2 in the same group, got %v and %v", groupID, other)
	}
}

func TestNonCVAccessClosesOpenCommutativeGroup(t *testing.T) {
	a := NewAnalyser(nil)
	info := dip.NewDataInfo(1, dip.KindFile, nil)

	cvAccess, _ := dip.WillAccess(info, dip.DirCV)
	cv := a.RegisterTask(10, []Parameter{{Access: cvAccess, Direction: dip.DirCV}}, 0, nil)
	groupID := a.memberOfGroup[cv.ID]

	// a plain read closes the still-open group and, since it reads the
	// group's collapsed output, depends on it.
	rAccess, _ := dip.WillAccess(info, dip.DirR)
	next := a.RegisterTask(11, []Parameter{{Access: rAccess, Direction: dip.DirR}}, 0, nil)
	if next.Ready() {
		t.Fatalf("expected the read that closes the group to depend on it")
	}
	g, ok := a.Group(groupID)
	if !ok || !g.Closed() {
		t.Fatalf("expected the commutative group to be closed by the non-CV access")
	}

	a.NotifyTaskEnd(cv.ID, StateFinished)
	if !next.Ready() {
		t.Fatalf("expected the reader ready once the group's only member finishes")
	}
}

func TestCommutativeGroupResolvesOnlyAfterAllMembersTerminal(t *testing.T) {
	a := NewAnalyser(nil)
	info := dip.NewDataInfo(1, dip.KindFile, nil)

	cv1Access, _ := dip.WillAccess(info, dip.DirCV)
	cv1 := a.RegisterTask(10, []Parameter{{Access: cv1Access, Direction: dip.DirCV}}, 0, nil)
	cv2Access, _ := dip.WillAccess(info, dip.DirCV)
	cv2 := a.RegisterTask(10, []Parameter{{Access: cv2Access, Direction: dip.DirCV}}, 0, nil)

	rAccess, _ := dip.WillAccess(info, dip.DirR)
	next := a.RegisterTask(11, []Parameter{{Access: rAccess, Direction: dip.DirR}}, 0, nil)
	groupID := a.memberOfGroup[cv1.ID]

	a.NotifyTaskEnd(cv1.ID, StateFinished)
	if next.Ready() {
		t.Fatalf("expected the group's dependent to still wait while cv2 has not finished")
	}
	a.NotifyTaskEnd(cv2.ID, StateFinished)
	if !next.Ready() {
		t.Fatalf("expected the group's dependent to become ready once every member is terminal")
	}
	if !a.groupResolved[groupID] {
		t.Fatalf("expected the group to be marked resolved")
	}
}

func TestCancelIsIdempotentOnTerminalTask(t *testing.T) {
	a := NewAnalyser(nil)
	t1 := a.RegisterTask(1, []Parameter{readyParam(1, dip.DirW)}, 0, nil)
	a.NotifyTaskEnd(t1.ID, StateFinished)
	if a.Cancel(t1.ID) {
		t.Fatalf("expected Cancel on an already-terminal task to report false")
	}
}

func TestCancelSuccessorsCascadesTransitively(t *testing.T) {
	a := NewAnalyser(nil)
	info := dip.NewDataInfo(1, dip.KindFile, nil)

	wAccess, _ := dip.WillAccess(info, dip.DirW)
	root := a.RegisterTask(1, []Parameter{{Access: wAccess, Direction: dip.DirW}}, 0, nil)

	// mid both reads root's output and becomes the new writer, so leaf
	// (which only reads) ends up depending on mid, not directly on root.
	rwAccess, _ := dip.WillAccess(info, dip.DirRW)
	mid := a.RegisterTask(2, []Parameter{{Access: rwAccess, Direction: dip.DirRW}}, 0, nil)

	rAccess, _ := dip.WillAccess(info, dip.DirR)
	leaf := a.RegisterTask(3, []Parameter{{Access: rAccess, Direction: dip.DirR}}, 0, nil)

	if mid.Ready() || leaf.Ready() {
		t.Fatalf("expected mid and leaf to be blocked before root finishes")
	}
	if _, ok := a.dependents[mid.ID]; !ok {
		t.Fatalf("expected leaf wired as a dependent of mid, not directly of root")
	}

	cancelled := a.CancelSuccessors(root.ID)
	if len(cancelled) != 2 {
		t.Fatalf("expected both downstream tasks cancelled transitively, got %v", cancelled)
	}
	if mid.State != StateCanceled || leaf.State != StateCanceled {
		t.Fatalf("expected mid and leaf marked CANCELED, got %v and %v", mid.State, leaf.State)
	}
}

func TestCancelSuccessorsNeverMarksTasksReady(t *testing.T) {
	var readied []TaskID
	a := NewAnalyser(func(id TaskID) { readied = append(readied, id) })
	info := dip.NewDataInfo(1, dip.KindFile, nil)

	wAccess, _ := dip.WillAccess(info, dip.DirW)
	root := a.RegisterTask(1, []Parameter{{Access: wAccess, Direction: dip.DirW}}, 0, nil)
	readied = nil // clear root's own immediate-ready notification

	r1Access, _ := dip.WillAccess(info, dip.DirR)
	a.RegisterTask(2, []Parameter{{Access: r1Access, Direction: dip.DirR}}, 0, nil)

	a.CancelSuccessors(root.ID)
	if len(readied) != 0 {
		t.Fatalf("expected CancelSuccessors to never fire onReady, got %v", readied)
	}
}

func TestNotifyTaskFailedCancelSuccessorsMarksFailedAndCascades(t *testing.T) {
	a := NewAnalyser(nil)
	info := dip.NewDataInfo(1, dip.KindFile, nil)

	wAccess, _ := dip.WillAccess(info, dip.DirW)
	root := a.RegisterTask(1, []Parameter{{Access: wAccess, Direction: dip.DirW}}, 0, nil)

	rAccess, _ := dip.WillAccess(info, dip.DirR)
	dependent := a.RegisterTask(2, []Parameter{{Access: rAccess, Direction: dip.DirR}}, 0, nil)

	cancelled := a.NotifyTaskFailedCancelSuccessors(root.ID)
	if root.State != StateFailed {
		t.Fatalf("expected root marked FAILED, got %v", root.State)
	}
	if len(cancelled) != 1 || cancelled[0] != dependent.ID {
		t.Fatalf("expected dependent cancelled, got %v", cancelled)
	}
	if dependent.State != StateCanceled {
		t.Fatalf("expected dependent state CANCELED, got %v", dependent.State)
	}
}
