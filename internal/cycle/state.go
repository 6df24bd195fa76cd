package cycle

// State names the position of a cycle inside its pipeline. Cycles run one
// at a time; any state may fall into Recovering and return to Idle
// without executing orders.
type State string

const (
	StateIdle           State = "idle"
	StateFetching       State = "fetching"
	StateFeaturizing    State = "featurizing"
	StateClassifying    State = "classifying"
	StateVoting         State = "voting"
	StatePredicting     State = "predicting"
	StateFusing         State = "fusing"
	StateEvaluatingRisk State = "evaluating_risk"
	StatePreExecCheck   State = "pre_exec_check"
	StateExecuting      State = "executing"
	StateStopCheck      State = "stop_check"
	StateRecovering     State = "recovering"
)
