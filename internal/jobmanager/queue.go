package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Minimega12121/compss/internal/observability"
)

// DispatchQueue decouples the Task-Dispatcher loop from the Adapter pool.
// A job assigned by the scheduler is enqueued here; adapter-pool
// goroutines claim it, run it, and Ack or Nack the claim, giving an
// at-most-once-with-bounded-retry delivery contract.
//
// Grounded on internal/state.Queue: the same claim/ack/nack/dead-letter
// shape, generalized from a job-poll queue fronting HTTP long-polling
// workers into the module's own in-process (or Redis-backed, for a
// multi-process Agent-comm-style adapter pool) dispatch queue.
type DispatchQueue interface {
	Enqueue(ctx context.Context, jobID JobID) error
	Claim(ctx context.Context, max int, consumer string, visibility time.Duration) ([]Claim, error)
	Ack(ctx context.Context, claims []Claim) error
	Nack(ctx context.Context, claims []Claim, reason string) error
	RequeueExpired(ctx context.Context, now time.Time, max int) (int, error)
	ListDeadLetters(ctx context.Context, limit int) ([]JobID, error)
}

// Claim is a receipt for one popped JobID, valid until VisibleAt.
type Claim struct {
	JobID JobID
	Receipt string
	ClaimedBy string
	ClaimedAt time.Time
	VisibleAt time.Time
}

type memoryInflight struct {
	claim Claim
}

// MemoryDispatchQueue is the default backend, grounded on
// internal/state/memory_queue.go: plain FIFO slice, inflight map keyed by
// receipt, nack counter promoting to a dead-letter list after 5 failures.
type MemoryDispatchQueue struct {
	mu sync.Mutex
	items []JobID
	inflight map[string]memoryInflight
	nack map[JobID]int
	dead []JobID
	counter uint64
}

func NewMemoryDispatchQueue() *MemoryDispatchQueue {
	return &MemoryDispatchQueue{
		items: make([]JobID, 0, 128),
		inflight: make(map[string]memoryInflight),
		nack: make(map[JobID]int),
	}
}

func (q *MemoryDispatchQueue) Enqueue(_ context.Context, jobID JobID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, jobID)
	return nil
}

func (q *MemoryDispatchQueue) Claim(_ context.Context, max int, consumer string, visibility time.Duration) ([]Claim, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if max <= 0 {
		max = 1
	}
	if visibility <= 0 {
		visibility = 15 * time.Second
	}
	if len(q.items) == 0 {
		return nil, nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}
	now := time.Now().UTC()
	out := make([]Claim, 0, max)
	for i := 0; i < max; i++ {
		jobID := q.items[0]
		q.items = q.items[1:]
		q.counter++
		receipt := fmt.Sprintf("mem:%s:%d", consumer, q.counter)
		claim := Claim{JobID: jobID, Receipt: receipt, ClaimedBy: consumer, ClaimedAt: now, VisibleAt: now.Add(visibility)}
		q.inflight[receipt] = memoryInflight{claim: claim}
		out = append(out, claim)
	}
	observability.Default.IncCounter("compss_dispatch_claimed_total", map[string]string{"consumer": consumer}, float64(len(out)))
	return out, nil
}

func (q *MemoryDispatchQueue) Ack(_ context.Context, claims []Claim) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range claims {
		delete(q.inflight, c.Receipt)
		delete(q.nack, c.JobID)
	}
	observability.Default.IncCounter("compss_dispatch_acked_total", nil, float64(len(claims)))
	return nil
}

func (q *MemoryDispatchQueue) Nack(_ context.Context, claims []Claim, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range claims {
		inflight, ok := q.inflight[c.Receipt]
		if !ok {
			continue
		}
		jobID := inflight.claim.JobID
		if reason == "error" {
			q.nack[jobID]++
			if q.nack[jobID] >= 5 {
				q.dead = append(q.dead, jobID)
				delete(q.nack, jobID)
				delete(q.inflight, c.Receipt)
				continue
			}
		}
		q.items = append(q.items, jobID)
		delete(q.inflight, c.Receipt)
	}
	observability.Default.IncCounter("compss_dispatch_nacked_total", map[string]string{"reason": reason}, float64(len(claims)))
	observability.Default.SetGauge("compss_dispatch_dead_letter_count", nil, float64(len(q.dead)))
	return nil
}

func (q *MemoryDispatchQueue) RequeueExpired(_ context.Context, now time.Time, max int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := 0
	for receipt, inflight := range q.inflight {
		if max > 0 && moved >= max {
			break
		}
		if inflight.claim.VisibleAt.After(now) {
			continue
		}
		q.items = append(q.items, inflight.claim.JobID)
		delete(q.inflight, receipt)
		moved++
	}
	if moved > 0 {
		observability.Default.IncCounter("compss_dispatch_expired_requeued_total", nil, float64(moved))
	}
	return moved, nil
}

func (q *MemoryDispatchQueue) ListDeadLetters(_ context.Context, limit int) ([]JobID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit <= 0 || limit > len(q.dead) {
		limit = len(q.dead)
	}
	out := make([]JobID, limit)
	copy(out, q.dead[:limit])
	return out, nil
}
