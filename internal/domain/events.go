package domain

// EventType identifies one wire-level pipeline event.
type EventType string

const (
	EventTypeStageStart    EventType = "stage_start"
	EventTypeStageComplete EventType = "stage_complete"
	EventTypeStageError    EventType = "stage_error"
	EventTypeComplete      EventType = "complete"
	EventTypeError         EventType = "error"
)

// Terminal reports whether the event type ends a run's event sequence.
// Exactly one of complete/error terminates every run.
func (t EventType) Terminal() bool {
	return t == EventTypeComplete || t == EventTypeError
}

// StageStartPayload announces a stage attempt. StageNumber is 1-based.
type StageStartPayload struct {
	Stage       string `json:"stage"`
	StageName   string `json:"stageName"`
	StageNumber int    `json:"stageNumber"`
	TotalStages int    `json:"totalStages"`
}

// StageCompletePayload reports a persisted, successful stage.
type StageCompletePayload struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"durationMs"`
}

// StageErrorPayload reports the failing stage and the ids of the stages that
// completed before it, in execution order.
type StageErrorPayload struct {
	Stage           string   `json:"stage"`
	Message         string   `json:"message"`
	CompletedStages []string `json:"completedStages"`
}

// CompletePayload carries the assembled result of a successful run.
type CompletePayload struct {
	Result *UnifiedResult `json:"result"`
}

// ErrorPayload reports a run-level failure outside any single stage.
type ErrorPayload struct {
	Message string `json:"message"`
}

// PipelineEvent is one decoded event. Exactly one payload pointer is set,
// matching Type.
type PipelineEvent struct {
	Type          EventType
	StageStart    *StageStartPayload
	StageComplete *StageCompletePayload
	StageError    *StageErrorPayload
	Complete      *CompletePayload
	Err           *ErrorPayload
}

// Payload returns the payload matching the event type, or nil when the event
// carries none.
func (e *PipelineEvent) Payload() any {
	switch e.Type {
	case EventTypeStageStart:
		return e.StageStart
	case EventTypeStageComplete:
		return e.StageComplete
	case EventTypeStageError:
		return e.StageError
	case EventTypeComplete:
		return e.Complete
	case EventTypeError:
		return e.Err
	default:
		return nil
	}
}
