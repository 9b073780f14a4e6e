// Package policy evaluates admission decisions the Access Processor
// consults before registering a new Application or before the Job Manager
// assigns a task to a resource, letting an operator restrict on-failure
// behavior, resource types, or per-application concurrency without a code
// change.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ApplicationQuota bounds one application's concurrent footprint.
type ApplicationQuota struct {
	MaxRunningApplications int `yaml:"max_running_applications"`
	MaxRunningTasks int `yaml:"max_running_tasks"`
}

type RuleMatch struct {
	Application string `yaml:"application"`
	Signature string `yaml:"signature"`
	Implementation string `yaml:"implementation"`
	Priority string `yaml:"priority"`
	ResourceType string `yaml:"resource_type"` // static|cloud
	WorkerLocality string `yaml:"worker_locality"`
	RequiresGPU *bool `yaml:"requires_gpu"`
}

type Rule struct {
	Name string `yaml:"name"`
	Effect string `yaml:"effect"` // allow|deny
	Reason string `yaml:"reason"`
	Match RuleMatch `yaml:"match"`
}

type Config struct {
	DefaultAction string `yaml:"default_action"` // allow|deny
	Rules []Rule `yaml:"rules"`
	Quotas map[string]ApplicationQuota `yaml:"quotas"`
}

type Decision struct {
	Allowed bool
	ReasonCode string
	Rule string
	Message string
}

// RegisterInput is evaluated when a new Application registers with the
// runtime.
type RegisterInput struct {
	Application string
	Priority string
	RunningApplications int
}

// AssignInput is evaluated when the Job Manager is about to submit a task
// to a chosen resource.
type AssignInput struct {
	Application string
	Signature string
	Implementation string
	ResourceType string
	WorkerLocality string
	WorkerGPU bool
	RunningTasks int
}

type Engine struct {
	defaultAction string
	rules []Rule
	quotas map[string]ApplicationQuota
	noop bool
}

func NewAllowAll() *Engine {
	return &Engine{
		defaultAction: "allow",
		rules: nil,
		quotas: map[string]ApplicationQuota{},
		noop: true,
	}
}

func LoadFromEnv() (*Engine, error) {
	path := strings.TrimSpace(os.Getenv("COMPSS_POLICY_FILE"))
	if path == "" {
		return NewAllowAll(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return NewFromConfig(cfg), nil
}

func NewFromConfig(cfg Config) *Engine {
	e := &Engine{
		defaultAction: normalizeAction(cfg.DefaultAction),
		rules: make([]Rule, 0, len(cfg.Rules)),
		quotas: map[string]ApplicationQuota{},
	}
	for _, r := range cfg.Rules {
		r.Effect = normalizeAction(r.Effect)
		if r.Effect == "" {
			r.Effect = "deny"
		}
		e.rules = append(e.rules, r)
	}
	for k, v := range cfg.Quotas {
		e.quotas[strings.TrimSpace(k)] = v
	}
	if e.defaultAction == "" {
		e.defaultAction = "allow"
	}
	if e.defaultAction == "allow" && len(e.rules) == 0 && len(e.quotas) == 0 {
		e.noop = true
	}
	return e
}

func (e *Engine) IsNoop() bool { return e != nil && e.noop }

func (e *Engine) EvaluateRegister(in RegisterInput) Decision {
	app := strings.TrimSpace(in.Application)
	if app == "" {
		app = "default"
	}
	if q, ok := e.quotas[app]; ok && q.MaxRunningApplications > 0 && in.RunningApplications >= q.MaxRunningApplications {
		return Decision{
			Allowed: false,
			ReasonCode: "quota_running_applications_exceeded",
			Rule: "quotas." + app,
			Message: fmt.Sprintf("running applications %d reached max_running_applications %d", in.RunningApplications, q.MaxRunningApplications),
		}
	}
	return e.evaluateRules(RuleMatch{Application: app, Priority: in.Priority})
}

func (e *Engine) EvaluateAssign(in AssignInput) Decision {
	app := strings.TrimSpace(in.Application)
	if app == "" {
		app = "default"
	}
	if q, ok := e.quotas[app]; ok && q.MaxRunningTasks > 0 && in.RunningTasks >= q.MaxRunningTasks {
		return Decision{
			Allowed: false,
			ReasonCode: "quota_running_tasks_exceeded",
			Rule: "quotas." + app,
			Message: fmt.Sprintf("running tasks %d reached max_running_tasks %d", in.RunningTasks, q.MaxRunningTasks),
		}
	}
	return e.evaluateRules(RuleMatch{
		Application: app,
		Signature: in.Signature,
		Implementation: in.Implementation,
		ResourceType: in.ResourceType,
		WorkerLocality: in.WorkerLocality,
		RequiresGPU: &in.WorkerGPU,
	})
}

func (e *Engine) evaluateRules(input RuleMatch) Decision {
	for _, r := range e.rules {
		if !matches(r.Match, input) {
			continue
		}
		allowed := r.Effect == "allow"
		reason := "policy_rule_" + r.Effect
		if r.Reason != "" {
			reason = strings.TrimSpace(r.Reason)
		}
		msg := reason
		if r.Name != "" {
			msg = r.Name + ": " + reason
		}
		return Decision{
			Allowed: allowed,
			ReasonCode: reason,
			Rule: r.Name,
			Message: msg,
		}
	}
	if e.defaultAction == "deny" {
		return Decision{
			Allowed: false,
			ReasonCode: "default_deny",
			Rule: "default_action",
			Message: "request denied by default_action=deny",
		}
	}
	return Decision{
		Allowed: true,
		ReasonCode: "default_allow",
		Rule: "default_action",
		Message: "request allowed by default_action=allow",
	}
}

func matches(rule RuleMatch, in RuleMatch) bool {
	if rule.Application != "" && rule.Application != in.Application {
		return false
	}
	if rule.Signature != "" && rule.Signature != in.Signature {
		return false
	}
	if rule.Implementation != "" && rule.Implementation != in.Implementation {
		return false
	}
	if rule.Priority != "" && rule.Priority != in.Priority {
		return false
	}
	if rule.ResourceType != "" && rule.ResourceType != in.ResourceType {
		return false
	}
	if rule.WorkerLocality != "" && rule.WorkerLocality != in.WorkerLocality {
		return false
	}
	if rule.RequiresGPU != nil && *rule.RequiresGPU != derefBool(in.RequiresGPU) {
		return false
	}
	return true
}

func normalizeAction(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "allow":
		return "allow"
	case "deny":
		return "deny"
	default:
		return ""
	}
}

func derefBool(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}
