package core

import (
	"time"

	"github.com/google/uuid"
)

// Stage names a step of the workflow state machine.
type Stage string

const (
	StageModeling         Stage = "modeling"
	StageModelReview      Stage = "model_review"
	StageScriptGeneration Stage = "script_generation"
	StageExecution        Stage = "execution"
	StageAnalysis         Stage = "analysis"
	StageDone             Stage = "done"
	StageAborted          Stage = "aborted"

	// StageIteration marks the end of one optimization iteration.
	StageIteration Stage = "iteration"
	// StageReport is the report generation after a run.
	StageReport Stage = "report"
)

// Stages lists the working stages in execution order.
func Stages() []Stage {
	return []Stage{StageModeling, StageModelReview, StageScriptGeneration, StageExecution, StageAnalysis}
}

// StepStatus tells whether a StepEvent marks the start or the end of a stage.
type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepEvent reports pipeline progress to an Observer. After emission it
// should be treated as immutable.
type StepEvent struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	Iteration int           `json:"iteration,omitempty"`
	Stage     Stage         `json:"stage"`
	Status    StepStatus    `json:"status"`
	Duration  time.Duration `json:"duration,omitempty"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewStepEvent creates an event for a stage transition of a run.
func NewStepEvent(runID string, stage Stage, status StepStatus) StepEvent {
	return StepEvent{
		ID:        NewID(),
		RunID:     runID,
		Stage:     stage,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// Observer receives step events. Implementations must not block for long;
// they run on the pipeline goroutine.
type Observer func(StepEvent)

// NewID returns a random identifier for runs and events.
func NewID() string { return uuid.NewString() }
