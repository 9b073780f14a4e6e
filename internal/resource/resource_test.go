package resource

import "testing"

func TestCanHostDynamicRespectsCoreCount(t *testing.T) {
	r := New(Description{Name: "worker-1", Kind: KindStatic, CPUCores: 1, Implementations: []string{"matmul"}})
	if !r.CanHostDynamic("matmul") {
		t.Fatalf("expected worker-1 to host matmul while idle")
	}
	r.ReduceDynamic()
	if r.CanHostDynamic("matmul") {
		t.Fatalf("expected worker-1 to be full after one running task on a 1-core resource")
	}
	r.IncreaseDynamic()
	if !r.CanHostDynamic("matmul") {
		t.Fatalf("expected worker-1 to free up after task end")
	}
}

func TestCanHostRejectsUnknownSignature(t *testing.T) {
	r := New(Description{Name: "worker-1", Implementations: []string{"matmul"}})
	if r.CanHost("reduce") {
		t.Fatalf("expected worker-1 to reject a signature it never advertised")
	}
}

func TestUnhealthyResourceCannotRunSomething(t *testing.T) {
	r := New(Description{Name: "worker-1", CPUCores: 4, Implementations: []string{"matmul"}})
	r.ApplyHeartbeat(Profile{Health: "unhealthy"})
	if r.CanRunSomething() {
		t.Fatalf("expected unhealthy resource to refuse work")
	}
}

func TestPoolReserveCloudRespectsLimit(t *testing.T) {
	p := NewPool(1)
	if err := p.ReserveCloud(); err != nil {
		t.Fatalf("first reservation should succeed: %v", err)
	}
	if err := p.ReserveCloud(); err == nil {
		t.Fatalf("expected second reservation to fail past the limit")
	}
	p.ReleaseCloud()
	if err := p.ReserveCloud(); err != nil {
		t.Fatalf("reservation should succeed again after release: %v", err)
	}
}

func TestRouterDefaultAndRuleMatch(t *testing.T) {
	r := &Router{cfg: RouterConfig{
		DefaultResourceKind: "static",
		Rules: []RouteRule{
			{Name: "gpu-to-cloud", WhenRequiresGPU: boolPtr(true), UseResourceKind: "cloud_elastic", UseImplementation: "gpu-impl"},
		},
	}}
	d := r.Route(RouteInput{Signature: "matmul", RequiresGPU: false})
	if d.ResourceKind != KindStatic || d.Rule != "default" {
		t.Fatalf("expected default routing, got %+v", d)
	}
	d = r.Route(RouteInput{Signature: "matmul", RequiresGPU: true})
	if d.ResourceKind != KindCloudElastic || d.Implementation != "gpu-impl" {
		t.Fatalf("expected gpu rule routing, got %+v", d)
	}
}

func boolPtr(b bool) *bool { return &b }
