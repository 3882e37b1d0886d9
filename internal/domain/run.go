package domain

import (
	"encoding/json"
	"time"
)

// RunStatus represents the lifecycle state of an analysis run.
type RunStatus string

const (
	// RunStatusPending is a created run that has not started stage 0.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning is a run with at least one stage started.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted is a terminal, immutable, successful run.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed is a terminal run that stopped at a stage failure.
	// A failed run is re-enterable: a resume request reuses its id and
	// persisted stage outputs.
	RunStatusFailed RunStatus = "failed"
)

// StageOutputs maps stage id to that stage's raw structured output.
// Entries are only ever appended, or overwritten for the most recently
// attempted stage; never removed. Execution order is the registry order,
// not map iteration order.
type StageOutputs map[string]json.RawMessage

// Clone returns a shallow copy safe to hand to another goroutine.
func (o StageOutputs) Clone() StageOutputs {
	if o == nil {
		return nil
	}
	out := make(StageOutputs, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// AnalysisRun represents one attempt to analyze a subject.
type AnalysisRun struct {
	ID            string       `json:"id"`
	SubjectID     string       `json:"subjectId"`
	Status        RunStatus    `json:"status"`
	CurrentStage  string       `json:"currentStage,omitempty"`
	StageOutputs  StageOutputs `json:"stageOutputs,omitempty"`
	FailureStage  string       `json:"failureStage,omitempty"`
	FailureReason string       `json:"failureReason,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty"`
}

// ReasoningCall is an audit record of one reasoning-service invocation,
// persisted when call recording is enabled.
type ReasoningCall struct {
	ID            string    `json:"id"`
	RunID         string    `json:"runId"`
	Stage         string    `json:"stage"`
	Model         string    `json:"model"`
	RequestBytes  int       `json:"requestBytes"`
	ResponseBytes int       `json:"responseBytes"`
	DurationMs    int64     `json:"durationMs"`
	StatusCode    int       `json:"statusCode,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
