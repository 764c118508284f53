package core

// Outcome distinguishes the ways a solver run can end. Callers must keep
// environment problems, execution failures and missing result artifacts apart.
type Outcome string

const (
	// OutcomeCompleted means the solver ran and produced its result.
	OutcomeCompleted Outcome = "completed"
	// OutcomeIncomplete means the solver ran successfully but its result
	// artifact was missing. Success stays true.
	OutcomeIncomplete Outcome = "incomplete"
	// OutcomeExecutionFailed covers nonzero exits and runtime faults.
	OutcomeExecutionFailed Outcome = "execution_failed"
	// OutcomeEnvironmentUnavailable means the self check failed and nothing ran.
	OutcomeEnvironmentUnavailable Outcome = "environment_unavailable"
)

// ExecutionResult is produced exactly once per solver run and must not be
// modified afterwards.
type ExecutionResult struct {
	Success bool    `json:"success"`
	Output  string  `json:"output"`
	Error   string  `json:"error"`
	Image   *string `json:"image"`
	Outcome Outcome `json:"outcome"`
}

// Completed builds a successful result.
func Completed(output string) ExecutionResult {
	return ExecutionResult{Success: true, Output: output, Outcome: OutcomeCompleted}
}

// Incomplete builds a successful result whose result artifact was absent.
func Incomplete(output string) ExecutionResult {
	return ExecutionResult{Success: true, Output: output, Outcome: OutcomeIncomplete}
}

// ExecutionFailed builds a result for a run that started but failed.
func ExecutionFailed(output, errText string) ExecutionResult {
	return ExecutionResult{Success: false, Output: output, Error: errText, Outcome: OutcomeExecutionFailed}
}

// Unavailable builds a result for a solver whose environment is unusable.
func Unavailable(errText string) ExecutionResult {
	return ExecutionResult{Success: false, Error: errText, Outcome: OutcomeEnvironmentUnavailable}
}

// WorkflowResult holds the outputs of one complete pipeline run. It is only
// constructed when every step succeeded.
type WorkflowResult struct {
	RunID             string          `json:"run_id,omitempty"`
	ModelingResult    string          `json:"modeling_result"`
	ModelReviewResult string          `json:"model_review_result"`
	SimulationScript  string          `json:"simulation_script"`
	ExecutionResult   ExecutionResult `json:"execution_result"`
	AnalysisResult    string          `json:"analysis_result"`
}

// IterationRecord is one entry of an optimization history. Result is nil
// only when the iteration's workflow aborted, in which case Error is set.
type IterationRecord struct {
	Iteration  int             `json:"iteration"`
	Parameters ParameterSet    `json:"parameters"`
	Result     *WorkflowResult `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// OptimizationStatus is the terminal state of an optimization run.
type OptimizationStatus string

const (
	StatusSuccess OptimizationStatus = "success"
	StatusFailed  OptimizationStatus = "failed"
)

// OptimizationResult is returned by the optimization loop. History is
// ordered by iteration and never longer than the iteration budget.
type OptimizationResult struct {
	RunID   string             `json:"run_id,omitempty"`
	Status  OptimizationStatus `json:"status"`
	Message string             `json:"message"`
	History []IterationRecord  `json:"history"`
}
