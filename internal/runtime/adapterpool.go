package runtime

import (
	"context"
	"time"

	"github.com/Minimega12121/compss/internal/jobmanager"
)

// RunAdapterPool starts n goroutines that repeatedly claim jobs from the
// dispatch queue and hand them to the configured Adapter. The adapter pool
// is deliberately outside the Access Processor's single-goroutine
// discipline: Manager.Dispatch calls back into Runtime's Listener methods,
// which post taskEndRequests rather than mutate state directly.
func (rt *Runtime) RunAdapterPool(ctx context.Context, n int, consumer string, payload func(*jobmanager.Job) []byte) {
	if n <= 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		go rt.adapterPoolWorker(ctx, consumer, payload)
	}
}

func (rt *Runtime) adapterPoolWorker(ctx context.Context, consumer string, payload func(*jobmanager.Job) []byte) {
	idle := 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.stopCh:
			return
		default:
		}
		if err := rt.jobMgr.Dispatch(ctx, consumer, 4, payload); err != nil {
			rt.errMgr.Warn("jobmanager", err, "consumer", consumer)
		}
		time.Sleep(idle)
	}
}
