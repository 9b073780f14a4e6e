package resource

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// RouteInput describes a task the router must pick a preferred
// implementation and resource kind for, before the scheduler's own scoring
// takes over.
type RouteInput struct {
	Signature      string
	RequiresGPU    bool
	Locality       string
	RequestedImpl  string
}

type RouteDecision struct {
	ResourceKind  Kind
	Implementation string
	Rule          string
}

type RouteRule struct {
	Name              string `yaml:"name"`
	WhenSignature     string `yaml:"signature"`
	WhenRequiresGPU   *bool  `yaml:"requires_gpu"`
	WhenLocality      string `yaml:"locality"`
	UseResourceKind   string `yaml:"use_resource_kind"` // static|cloud_elastic|http_connection
	UseImplementation string `yaml:"use_implementation"`
}

type RouterConfig struct {
	DefaultResourceKind   string      `yaml:"default_resource_kind"`
	DefaultImplementation string      `yaml:"default_implementation"`
	Rules                 []RouteRule `yaml:"rules"`
}

// Router picks a preferred implementation and resource kind for a task,
// generalized from internal/models/router.go's latency-class/model routing
// into signature/GPU/locality routing for the COMPSs domain.
type Router struct {
	cfg RouterConfig
}

func NewDefaultRouter() *Router {
	return &Router{cfg: RouterConfig{DefaultResourceKind: "static", DefaultImplementation: ""}}
}

func LoadRouterFromEnv() (*Router, error) {
	path := strings.TrimSpace(os.Getenv("COMPSS_ROUTING_FILE"))
	if path == "" {
		return NewDefaultRouter(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	var cfg RouterConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse routing file: %w", err)
	}
	if strings.TrimSpace(cfg.DefaultResourceKind) == "" {
		cfg.DefaultResourceKind = "static"
	}
	return &Router{cfg: cfg}, nil
}

func (r *Router) Route(in RouteInput) RouteDecision {
	decision := RouteDecision{
		ResourceKind:   parseKind(r.cfg.DefaultResourceKind),
		Implementation: r.cfg.DefaultImplementation,
		Rule:           "default",
	}
	if in.RequestedImpl != "" {
		decision.Implementation = in.RequestedImpl
	}
	for _, rule := range r.cfg.Rules {
		if rule.WhenSignature != "" && rule.WhenSignature != in.Signature {
			continue
		}
		if rule.WhenRequiresGPU != nil && *rule.WhenRequiresGPU != in.RequiresGPU {
			continue
		}
		if rule.WhenLocality != "" && rule.WhenLocality != in.Locality {
			continue
		}
		if strings.TrimSpace(rule.UseResourceKind) != "" {
			decision.ResourceKind = parseKind(rule.UseResourceKind)
		}
		if strings.TrimSpace(rule.UseImplementation) != "" {
			decision.Implementation = strings.TrimSpace(rule.UseImplementation)
		}
		if strings.TrimSpace(rule.Name) != "" {
			decision.Rule = strings.TrimSpace(rule.Name)
		} else {
			decision.Rule = "rule"
		}
		return decision
	}
	return decision
}

func parseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cloud_elastic", "cloud":
		return KindCloudElastic
	case "http_connection", "http":
		return KindHTTPConnection
	default:
		return KindStatic
	}
}
