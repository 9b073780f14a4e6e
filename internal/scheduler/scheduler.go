package scheduler

// Scheduler is the pluggable scheduling interface. OrderStrict is the only
// implementation shipped and satisfies it; the runtime currently holds a
// *OrderStrict directly rather than a Scheduler value.
type Scheduler interface {
	GenerateActionScore(action Action, waitingCost, executionCost, dataLocalityCost float64) Score
	ScheduleAction(action Action, score Score, resource Resource) error
	UpgradeAction(action Action, score Score)
	HandleDependencyFreeActions(dataFree, resourceFree []scoredAction, resource Resource) []Action
}

var _ Scheduler = (*OrderStrict)(nil)

// NewScoredAction is the constructor callers outside this package use to
// build the []scoredAction slices HandleDependencyFreeActions expects,
// since scoredAction's fields are unexported.
func NewScoredAction(action Action, score Score) scoredAction {
	return scoredAction{action: action, score: score}
}

// ScoredActionsOf collects already-constructed scoredAction values (from
// NewScoredAction) into the slice HandleDependencyFreeActions expects. A
// caller outside this package can never spell []scoredAction directly since
// the element type is unexported; passing values through this variadic
// parameter lets Go infer the type without the caller needing to name it.
func ScoredActionsOf(items ...scoredAction) []scoredAction {
	return items
}
