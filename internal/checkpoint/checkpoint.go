// Package checkpoint implements the Checkpoint Manager interface:
// a pluggable hook the Access Processor calls on task start/end and main
// data access, letting the runtime resume after a crash without replaying
// every task from scratch. A no-op default keeps the interface load-bearing
// even when no checkpoint backend is configured.
package checkpoint

import "context"

// Manager receives every state transition the Access Processor makes that
// matters for recovery. Implementations must not block the AP goroutine
// for long; FileCheckpointManager and ObjectStoreCheckpointManager both
// write synchronously on the caller's goroutine.
type Manager interface {
	NewTask(ctx context.Context, taskID uint64, coreID int, appID string)
	EndTask(ctx context.Context, taskID uint64, state string)
	MainAccess(ctx context.Context, dataID uint64, renaming string)
	DeletedData(ctx context.Context, dataID uint64)
}

// NoopManager discards every event; it is the default when no checkpoint
// backend is configured.
type NoopManager struct{}

func (NoopManager) NewTask(context.Context, uint64, int, string) {}
func (NoopManager) EndTask(context.Context, uint64, string) {}
func (NoopManager) MainAccess(context.Context, uint64, string) {}
func (NoopManager) DeletedData(context.Context, uint64) {}

var _ Manager = NoopManager{}
