package resource

import (
	"fmt"
	"sync"
)

// Pool is the runtime's registry of resources, plus the cloud-elastic
// reserve/release bookkeeping asks for: a cloud provider connector is
// out of scope, but the accounting that decides when to ask for one (or
// give one back) is not.
type Pool struct {
	mu sync.Mutex
	resources map[string]*Resource
	// cloudReserved counts outstanding reservations against MaxCloudNodes,
	// so ReserveCloud/ReleaseCloud can be exercised without a live cloud
	// SDK behind them.
	cloudReserved int
	maxCloudNodes int
}

func NewPool(maxCloudNodes int) *Pool {
	return &Pool{resources: make(map[string]*Resource), maxCloudNodes: maxCloudNodes}
}

func (p *Pool) Add(r *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resources[r.Name()] = r
}

func (p *Pool) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resources, name)
}

func (p *Pool) Get(name string) (*Resource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.resources[name]
	return r, ok
}

func (p *Pool) List() []*Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Resource, 0, len(p.resources))
	for _, r := range p.resources {
		out = append(out, r)
	}
	return out
}

// CompatibleWith returns every resource in the pool whose static
// configuration can host signature, for the scheduler's compatibility
// check.
func (p *Pool) CompatibleWith(signature string) []*Resource {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Resource
	for _, r := range p.resources {
		if r.CanHost(signature) {
			out = append(out, r)
		}
	}
	return out
}

// ReserveCloud increments the outstanding reservation count, refusing once
// maxCloudNodes is reached — a static ceiling standing in for whatever
// budget/quota check a real cloud connector would perform.
func (p *Pool) ReserveCloud() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxCloudNodes > 0 && p.cloudReserved >= p.maxCloudNodes {
		return fmt.Errorf("resource: cloud reservation limit reached (%d)", p.maxCloudNodes)
	}
	p.cloudReserved++
	return nil
}

func (p *Pool) ReleaseCloud() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cloudReserved > 0 {
		p.cloudReserved--
	}
}

func (p *Pool) CloudReserved() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cloudReserved
}
