package jobmanager

import "context"

// Adapter is the narrowest port in the module: the core only ever speaks to
// this interface, never to a byte-level protocol directly. Concrete NIO,
// GAT, SSH/GOS, HTTP and Agent-comm transports satisfy it externally — the
// core imports none of them.
type Adapter interface {
	RunJob(ctx context.Context, job *Job, payload []byte) error
	CancelJob(ctx context.Context, job *Job) error
	GetData(ctx context.Context, renaming, destination string) error
	ExistsData(ctx context.Context, renaming string) (bool, error)
}
