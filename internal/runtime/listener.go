package runtime

import (
	"context"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/jobmanager"
)

// Runtime implements jobmanager.Listener. These methods run on whichever
// adapter-pool goroutine called Manager.Dispatch, never the Access
// Processor goroutine, so they must not touch Analyser/DataInfo state
// directly — they post a taskEndRequest instead, preserving its
// single-mutator invariant.
var _ jobmanager.Listener = (*Runtime)(nil)

func (rt *Runtime) JobCompleted(job *jobmanager.Job, outputURI string) {
	req := &taskEndRequest{taskID: job.TaskID, state: analyser.StateFinished, outputURI: outputURI, resourceName: job.ResourceName, onFailure: job.OnFailure, duration: job.Duration, done: make(chan struct{})}
	rt.apCh <- req
}

func (rt *Runtime) JobFailed(job *jobmanager.Job, cause error) {
	req := &taskEndRequest{taskID: job.TaskID, state: analyser.StateFailed, cause: cause, resourceName: job.ResourceName, onFailure: job.OnFailure, duration: job.Duration, done: make(chan struct{})}
	rt.apCh <- req
}

func (rt *Runtime) JobCancelled(job *jobmanager.Job) {
	req := &taskEndRequest{taskID: job.TaskID, state: analyser.StateCanceled, resourceName: job.ResourceName, onFailure: job.OnFailure, done: make(chan struct{})}
	rt.apCh <- req
}

func (rt *Runtime) checkpointEndTask(taskID analyser.TaskID, state analyser.State) {
	rt.checkpoint.EndTask(context.Background(), uint64(taskID), stateName(state))
}

func stateName(s analyser.State) string {
	switch s {
	case analyser.StateFinished:
		return "FINISHED"
	case analyser.StateFailed:
		return "FAILED"
	case analyser.StateCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}
