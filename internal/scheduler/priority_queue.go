package scheduler

import "container/heap"

// objectValue pairs an Action with the Score it was given at insertion
// time, plus tie-break metadata, mirroring ObjectValue<AllocatableAction>
// from the reference OrderStrict scheduler.
type objectValue struct {
	action   Action
	score    Score
	sequence uint64 // insertion order, lower wins ties
	index    int    // heap.Interface bookkeeping
}

func (o *objectValue) less(other *objectValue) bool {
	if o.score.IsBetter(other.score) {
		return true
	}
	if other.score.IsBetter(o.score) {
		return false
	}
	if o.sequence != other.sequence {
		return o.sequence < other.sequence
	}
	return o.action.ActionID() < other.action.ActionID()
}

// actionHeap is a max-heap ordered by objectValue.less: Pop always returns
// the best-ranked pending action, matching the reference scheduler's
// PriorityQueue<ObjectValue<AllocatableAction>>.
type actionHeap []*objectValue

func (h actionHeap) Len() int            { return len(h) }
func (h actionHeap) Less(i, j int) bool  { return h[i].less(h[j]) }
func (h actionHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *actionHeap) Push(x any) {
	ov := x.(*objectValue)
	ov.index = len(*h)
	*h = append(*h, ov)
}

func (h *actionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

func (h *actionHeap) peek() *objectValue {
	if len(*h) == 0 {
		return nil
	}
	return (*h)[0]
}

var _ = heap.Interface(&actionHeap{})
