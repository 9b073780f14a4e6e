// Package runtime wires the Access Processor, Task Analyser, Data Info
// Provider, Task Scheduler, Job Manager, Resource Model, Application
// registry, Checkpoint Manager and Error Manager together into a single
// entry point.
//
// Three concurrency domains, each owning a disjoint slice of state:
//
//  1. The Access Processor loop (accessProcessorLoop), the only goroutine
//     that touches the Analyser, the live DataInfo registry, the
//     Application registry or barrier/pending bookkeeping. Every public
//     method posts a request onto apCh and blocks on that request's own
//     done channel.
//  2. The Task Dispatcher loop (taskDispatchLoop), the only goroutine that
//     touches scheduler.OrderStrict's readyQueue and upgradedActions. The
//     AP loop and the adapter pool both reach it only by posting a tdEvent
//     onto tdCh, never by calling a scheduler method inline.
//  3. The adapter pool (RunAdapterPool's worker goroutines), which drains
//     the DispatchQueue and calls into the configured Adapter; it reports
//     back to the AP loop through taskEndRequests, never mutating AP or TD
//     state directly.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Minimega12121/compss/internal/analyser"
	"github.com/Minimega12121/compss/internal/app"
	"github.com/Minimega12121/compss/internal/checkpoint"
	"github.com/Minimega12121/compss/internal/config"
	"github.com/Minimega12121/compss/internal/dip"
	"github.com/Minimega12121/compss/internal/errmgr"
	"github.com/Minimega12121/compss/internal/jobmanager"
	"github.com/Minimega12121/compss/internal/observability"
	"github.com/Minimega12121/compss/internal/policy"
	"github.com/Minimega12121/compss/internal/profile"
	"github.com/Minimega12121/compss/internal/resource"
	"github.com/Minimega12121/compss/internal/scheduler"

	"golang.org/x/sync/errgroup"
)

// CoreElement is the static registration of one task signature: which
// implementations exist for it and, transitively, which resources can run
// it (via resource.Description.Implementations naming the same strings).
type CoreElement struct {
	Signature string
	Implementations []string
}

type Runtime struct {
	cfg config.Config
	logger *slog.Logger

	errMgr *errmgr.ErrorManager
	checkpoint checkpoint.Manager
	policy *policy.Engine
	router *resource.Router
	pool *resource.Pool
	sched *scheduler.OrderStrict
	jobMgr *jobmanager.Manager

	an *analyser.Analyser

	mu sync.Mutex
	dataInfos map[dip.DataID]*dip.DataInfo
	dataStore dip.DataStore
	nextData uint64
	apps map[app.ID]*app.Application
	cores map[int]CoreElement
	nextCore int

	barriers map[app.ID][]chan struct{}
	pending map[app.ID]int // count of non-terminal tasks owned by app

	apCh chan request
	tdCh chan tdEvent
	stopCh chan struct{}
	group *errgroup.Group

	profileStore profile.Store
	prof *profile.Document
}

type Options struct {
	Config config.Config
	Logger *slog.Logger
	Adapter jobmanager.Adapter
	Queue jobmanager.DispatchQueue
	// DataStore persists DataInfo bookkeeping so a restarted master reloads
	// version state instead of starting from an empty registry; nil means
	// COMPSS_DATASTORE_BACKEND was left at "memory".
	DataStore dip.DataStore
	// InitialDataInfos seeds the in-memory registry, typically loaded from
	// DataStore.ListDataInfo before New is called.
	InitialDataInfos map[dip.DataID]*dip.DataInfo
	Checkpoint checkpoint.Manager
	Policy *policy.Engine
	Router *resource.Router
	// ProfileStore persists execution-profile metrics across restarts; nil
	// means neither INPUT_PROFILE nor OUTPUT_PROFILE was configured.
	ProfileStore profile.Store
	// InitialProfile seeds the in-memory document, typically loaded from
	// ProfileStore.Load before New is called.
	InitialProfile *profile.Document
}

func New(opts Options) *Runtime {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ckpt := opts.Checkpoint
	if ckpt == nil {
		ckpt = checkpoint.NoopManager{}
	}
	pol := opts.Policy
	if pol == nil {
		pol = policy.NewAllowAll()
	}
	router := opts.Router
	if router == nil {
		router = resource.NewDefaultRouter()
	}
	adapter := opts.Adapter
	queue := opts.Queue
	if queue == nil {
		queue = jobmanager.NewMemoryDispatchQueue()
	}
	initialProfile := opts.InitialProfile
	if initialProfile == nil {
		initialProfile = profile.NewDocument()
	}
	dataInfos := opts.InitialDataInfos
	if dataInfos == nil {
		dataInfos = make(map[dip.DataID]*dip.DataInfo)
	}
	var nextData uint64
	for id := range dataInfos {
		if uint64(id) > nextData {
			nextData = uint64(id)
		}
	}

	rt := &Runtime{
		cfg: opts.Config,
		logger: logger,
		errMgr: errmgr.New(logger),
		checkpoint: ckpt,
		policy: pol,
		router: router,
		pool: resource.NewPool(opts.Config.MaxCloudNodes),
		dataInfos: dataInfos,
		dataStore: opts.DataStore,
		nextData: nextData,
		apps: make(map[app.ID]*app.Application),
		cores: make(map[int]CoreElement),
		barriers: make(map[app.ID][]chan struct{}),
		pending: make(map[app.ID]int),
		apCh: make(chan request, 256),
		tdCh: make(chan tdEvent, 256),
		stopCh: make(chan struct{}),
		profileStore: opts.ProfileStore,
		prof: initialProfile,
	}
	rt.an = analyser.NewAnalyser(rt.onTaskReady)
	rt.sched = scheduler.NewOrderStrict(rt.dispatchAction)
	rt.jobMgr = jobmanager.NewManager(adapter, queue, logger, rt)
	return rt
}

func (rt *Runtime) Pool() *resource.Pool { return rt.pool }

// DefaultWallClockLimit is the COMPSS_WALLCLOCK_LIMIT configured for this
// runtime, used by a driver as a fallback when a RegisterApplication caller
// does not name its own deadline.
func (rt *Runtime) DefaultWallClockLimit() time.Duration { return rt.cfg.DefaultWallClockLimit }

// Start launches the Access Processor loop, the Task Dispatcher loop, and
// the background tickers (requeue, deadline sweep) that feed requests into
// the AP loop. The adapter pool, the third concurrency domain, is sized and
// started separately by a caller via RunAdapterPool.
func (rt *Runtime) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	rt.group = g
	g.Go(func() error { return rt.accessProcessorLoop(ctx) })
	g.Go(func() error { return rt.taskDispatchLoop(ctx) })
	g.Go(func() error { return rt.requeueLoop(ctx) })
	g.Go(func() error { return rt.deadlineLoop(ctx) })
	return nil
}

func (rt *Runtime) Wait() error {
	if rt.group == nil {
		return nil
	}
	return rt.group.Wait()
}

func (rt *Runtime) Stop() {
	close(rt.stopCh)
}

func (rt *Runtime) accessProcessorLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rt.stopCh:
			return nil
		case <-rt.errMgr.Done():
			return rt.errMgr.Cause()
		case req := <-rt.apCh:
			_, span := observability.StartSpan(ctx, fmt.Sprintf("ap.%T", req))
			req.process(rt)
			span.End()
		}
	}
}

// deadlineLoop periodically posts a deadlineSweepRequest so an
// Application's wall-clock Deadline is enforced from the Access Processor
// goroutine, the same goroutine that owns task cancellation everywhere
// else.
func (rt *Runtime) deadlineLoop(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.stopCh:
			return nil
		case now := <-ticker.C:
			req := &deadlineSweepRequest{baseRequest: newBaseRequest(), now: now}
			rt.apCh <- req
			req.wait()
		}
	}
}

func (rt *Runtime) requeueLoop(ctx context.Context) error {
	interval := rt.cfg.RequeueInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.stopCh:
			return nil
		case <-ticker.C:
			n, err := rt.jobMgr.RequeueExpired(ctx)
			if err != nil {
				rt.errMgr.Warn("jobmanager", err)
				continue
			}
			if n > 0 {
				rt.logger.Info("requeued expired dispatch claims", "count", n)
			}
		}
	}
}

// post submits req to the Access Processor and blocks until it has been
// processed. Every public API method funnels through this.
func (rt *Runtime) post(req request) {
	rt.apCh <- req
	req.wait()
}

func (rt *Runtime) allocDataID() dip.DataID {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextData++
	return dip.DataID(rt.nextData)
}

func (rt *Runtime) RegisterCoreElement(signature string, implementations []string) int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextCore++
	id := rt.nextCore
	rt.cores[id] = CoreElement{Signature: signature, Implementations: implementations}
	return id
}

func (rt *Runtime) signatureFor(coreID int) string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.cores[coreID].Signature
}

// recordTaskDuration folds one task's execution time into the in-memory
// profile document, keyed by both the resource it ran on and the
// implementation signature it ran under.
func (rt *Runtime) recordTaskDuration(resourceName, signature string, dur time.Duration) {
	if dur <= 0 {
		return
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if resourceName != "" {
		rt.prof.RecordResource(resourceName, dur)
	}
	if signature != "" {
		rt.prof.RecordImplementation(signature, dur)
	}
}

// SaveProfile persists the accumulated execution profile through
// ProfileStore, a no-op if none was configured (no OUTPUT_PROFILE set).
func (rt *Runtime) SaveProfile(ctx context.Context) error {
	if rt.profileStore == nil {
		return nil
	}
	rt.mu.Lock()
	doc := rt.prof
	rt.mu.Unlock()
	return rt.profileStore.Save(ctx, doc)
}
