package domain

import (
	"context"
	"encoding/json"
)

// RunLedger is the only persistence contract the orchestrator depends on.
// Any store satisfying it (relational, in-memory for tests) is interchangeable.
type RunLedger interface {
	// GetOrCreateRun returns the run for subjectID, creating a pending one if
	// no resumable run exists. isResume is true when an existing pending,
	// running, or failed run was returned; its StageOutputs seed the resume.
	// Must be idempotent under concurrent callers for the same subject:
	// ledger-level uniqueness, not in-process locking, is the authority.
	GetOrCreateRun(ctx context.Context, subjectID string) (run *AnalysisRun, isResume bool, err error)

	// SetCurrentStage records the stage last started, for observability and resume.
	SetCurrentStage(ctx context.Context, runID, stageID string) error

	// RecordStageOutput appends or overwrites the output for stageID.
	// Outputs are never deleted. ordinal is the stage's registry position,
	// persisted so reads return outputs in execution order.
	RecordStageOutput(ctx context.Context, runID, stageID string, ordinal int, output json.RawMessage) error

	// Complete marks the run completed. The run is immutable afterwards.
	Complete(ctx context.Context, runID string) error

	// Fail marks the run failed at stageID with a human-readable reason.
	Fail(ctx context.Context, runID, stageID, reason string) error

	// GetRun returns a run with its stage outputs, or ErrorTypeNotFound.
	GetRun(ctx context.Context, runID string) (*AnalysisRun, error)

	// ListRunsBySubject returns the subject's runs, newest first, without
	// stage outputs.
	ListRunsBySubject(ctx context.Context, subjectID string) ([]*AnalysisRun, error)
}

// CallRecorder persists reasoning-service call audit records. Implementations
// must be safe for concurrent use; recording failures are never fatal to a run.
type CallRecorder interface {
	RecordCall(ctx context.Context, call *ReasoningCall) error
}
