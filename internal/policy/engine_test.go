package policy

import "testing"

func TestEvaluateRegisterQuotaAndDenyRule(t *testing.T) {
	engine := NewFromConfig(Config{
		DefaultAction: "allow",
		Quotas: map[string]ApplicationQuota{
			"app-a": {MaxRunningApplications: 1},
		},
		Rules: []Rule{
			{
				Name:   "deny-high-priority-external-impl",
				Effect: "deny",
				Reason: "high_priority_external_forbidden",
				Match: RuleMatch{
					Priority:       "high",
					Application:    "app-a",
				},
			},
		},
	})

	d := engine.EvaluateRegister(RegisterInput{
		Application:         "app-a",
		Priority:            "high",
		RunningApplications: 0,
	})
	if d.Allowed {
		t.Fatalf("expected deny decision")
	}
	if d.ReasonCode != "high_priority_external_forbidden" {
		t.Fatalf("unexpected reason code: %s", d.ReasonCode)
	}

	d = engine.EvaluateRegister(RegisterInput{
		Application:         "app-a",
		Priority:            "low",
		RunningApplications: 1,
	})
	if d.Allowed {
		t.Fatalf("expected quota deny decision")
	}
	if d.ReasonCode != "quota_running_applications_exceeded" {
		t.Fatalf("unexpected quota reason code: %s", d.ReasonCode)
	}
}

func TestEvaluateAssignQuota(t *testing.T) {
	engine := NewFromConfig(Config{
		DefaultAction: "allow",
		Quotas: map[string]ApplicationQuota{
			"app-a": {MaxRunningTasks: 2},
		},
	})
	d := engine.EvaluateAssign(AssignInput{
		Application:  "app-a",
		Signature:    "matmul(IN, IN, OUT)",
		RunningTasks: 2,
	})
	if d.Allowed {
		t.Fatalf("expected running task quota deny")
	}
	if d.ReasonCode != "quota_running_tasks_exceeded" {
		t.Fatalf("unexpected reason code: %s", d.ReasonCode)
	}
}

func TestAllowAllIsNoop(t *testing.T) {
	e := NewAllowAll()
	if !e.IsNoop() {
		t.Fatalf("expected NewAllowAll to be a no-op engine")
	}
	d := e.EvaluateAssign(AssignInput{Application: "anything"})
	if !d.Allowed {
		t.Fatalf("expected allow-all engine to allow")
	}
}
