package scheduler

import (
	"container/heap"
	"sync"
)

// OrderStrict is the default Scheduler: a single global priority queue of
// ready actions, ordered by Score, dispatched to whichever resource asks
// for work. Ported control-flow-for-control-flow from the reference
// scheduler's OrderStrictTS, generalized from its Java-specific
// PriorityQueue/ObjectValue plumbing into Go's container/heap.
type OrderStrict struct {
	mu sync.Mutex

	readyQueue actionHeap
	// addedActions indexes readyQueue entries by action for O(1) removal
	// on upgrade, matching addedActions in the reference implementation.
	addedActions map[ActionID]*objectValue
	// upgradedActions holds actions pulled out of readyQueue to be
	// considered ahead of everything else the next time a compatible
	// resource becomes free (an explicit priority bump, e.g. after a
	// failed action is resubmitted).
	upgradedActions map[ActionID]*objectValue

	sequence uint64
	dispatch DispatchFunc
}

func NewOrderStrict(dispatch DispatchFunc) *OrderStrict {
	return &OrderStrict{
		addedActions:    make(map[ActionID]*objectValue),
		upgradedActions: make(map[ActionID]*objectValue),
		dispatch:        dispatch,
	}
}

// GenerateActionScore computes the four-part tuple for action given the
// current load on target: waitingCost approximates queueing delay,
// executionCost the action's own estimated cost, dataLocalityCost how far
// its inputs are from target. All three inputs are provided by the caller
// (the Task Analyser knows the data locations, the Job Manager the
// per-resource load), since this package has no data-model dependency.
func (s *OrderStrict) GenerateActionScore(action Action, waitingCost, executionCost, dataLocalityCost float64) Score {
	return Score{
		Priority:         action.BasePriority(),
		WaitingCost:      waitingCost,
		ExecutionCost:    executionCost,
		DataLocalityCost: dataLocalityCost,
	}
}

// ScheduleAction is the reference scheduler's scheduleAction: schedule
// immediately if the queue is empty or action outranks the current head,
// otherwise enqueue it for the next dispatch opportunity.
func (s *OrderStrict) ScheduleAction(action Action, score Score, resource Resource) error {
	s.mu.Lock()
	head := s.readyQueue.peek()
	candidate := &objectValue{action: action, score: score}
	if head == nil || candidate.less(head) {
		s.mu.Unlock()
		if resource == nil || !resource.CanRunSomething() {
			return s.enqueue(action, score)
		}
		return s.dispatch(action, resource)
	}
	s.mu.Unlock()
	return s.enqueue(action, score)
}

func (s *OrderStrict) enqueue(action Action, score Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addActionToReadyQueueLocked(action, score)
	return nil
}

func (s *OrderStrict) addActionToReadyQueueLocked(action Action, score Score) {
	s.sequence++
	ov := &objectValue{action: action, score: score, sequence: s.sequence}
	heap.Push(&s.readyQueue, ov)
	s.addedActions[action.ActionID()] = ov
}

// UpgradeAction removes action from the ready queue (if present) and marks
// it for opportunistic scheduling ahead of everything else, matching
// upgradeAction's removal-then-set-insertion in the reference scheduler.
func (s *OrderStrict) UpgradeAction(action Action, score Score) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ov, ok := s.addedActions[action.ActionID()]; ok {
		heap.Remove(&s.readyQueue, ov.index)
		delete(s.addedActions, action.ActionID())
	}
	s.upgradedActions[action.ActionID()] = &objectValue{action: action, score: score, sequence: s.nextSequenceLocked()}
}

func (s *OrderStrict) nextSequenceLocked() uint64 {
	s.sequence++
	return s.sequence
}

// manageUpgradedActions opportunistically drains any upgraded action that
// is compatible with resource and that resource can currently host,
// matching manageUpgradedActions in the reference scheduler.
func (s *OrderStrict) manageUpgradedActions(resource Resource) {
	if resource == nil || !resource.CanRunSomething() {
		return
	}
	for id, ov := range s.upgradedActions {
		if !compatibleWith(ov.action, resource) {
			continue
		}
		delete(s.upgradedActions, id)
		s.mu.Unlock()
		_ = s.dispatch(ov.action, resource)
		s.mu.Lock()
	}
}

func compatibleWith(action Action, resource Resource) bool {
	for _, name := range action.CompatibleResources() {
		if name == resource.Name() {
			return true
		}
	}
	return false
}

// HandleDependencyFreeActions is the reference scheduler's
// handleDependencyFreeActions: it merges newly data-free actions and
// newly resource-free actions into a scratch heap, then repeatedly
// dispatches whichever of readyQueue's head or the scratch heap's head
// currently scores better, leaving anything left over in readyQueue for
// the next call. Actions that turn out to have no compatible resource at
// all are reported as blocked via blockedCandidates.
func (s *OrderStrict) HandleDependencyFreeActions(dataFree []scoredAction, resourceFree []scoredAction, resource Resource) (blocked []Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var executable actionHeap
	for _, sa := range append(append([]scoredAction{}, dataFree...), resourceFree...) {
		s.sequence++
		heap.Push(&executable, &objectValue{action: sa.action, score: sa.score, sequence: s.sequence})
	}

	s.manageUpgradedActions(resource)

	// deferred holds actions that cannot run on resource right now; they go
	// back into readyQueue only once the loop ends, so a single call never
	// picks the same action twice.
	var deferred []*objectValue
	for executable.Len() > 0 || s.readyQueue.Len() > 0 {
		readyHead := s.readyQueue.peek()
		execHead := executable.peek()

		var pick *objectValue
		var fromReady bool
		switch {
		case readyHead == nil:
			pick = execHead
		case execHead == nil:
			pick = readyHead
			fromReady = true
		case readyHead.less(execHead):
			pick = readyHead
			fromReady = true
		default:
			pick = execHead
		}

		if !compatibleAny(pick.action, resource) {
			blocked = append(blocked, pick.action)
			if fromReady {
				heap.Remove(&s.readyQueue, pick.index)
				delete(s.addedActions, pick.action.ActionID())
			} else {
				heap.Pop(&executable)
			}
			continue
		}

		if fromReady {
			heap.Remove(&s.readyQueue, pick.index)
			delete(s.addedActions, pick.action.ActionID())
		} else {
			heap.Pop(&executable)
		}

		if resource == nil || !resource.CanRunSomething() || !compatibleWith(pick.action, resource) {
			deferred = append(deferred, pick)
			continue
		}

		s.mu.Unlock()
		err := s.dispatch(pick.action, resource)
		s.mu.Lock()
		if err != nil {
			deferred = append(deferred, pick)
		}
	}
	for _, ov := range deferred {
		s.addActionToReadyQueueLocked(ov.action, ov.score)
	}

	return blocked
}

// scoredAction is a dependency-free action paired with the score the
// caller (the runtime, which knows the data model) computed for it.
type scoredAction struct {
	action Action
	score  Score
}

func compatibleAny(action Action, resource Resource) bool {
	if resource != nil && compatibleWith(action, resource) {
		return true
	}
	return len(action.CompatibleResources()) > 0
}
