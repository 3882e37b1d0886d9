package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/accordly/case-insight/internal/domain"
)

// The wire types are shared with the server so payloads never drift.
type (
	Participant  = domain.Participant
	Message      = domain.Message
	Agreement    = domain.Agreement
	TrackedIssue = domain.TrackedIssue

	Result             = domain.UnifiedResult
	Topic              = domain.Topic
	VerifiedClaim      = domain.VerifiedClaim
	IssueAction        = domain.IssueAction
	AgreementViolation = domain.AgreementViolation
	ParticipantProfile = domain.ParticipantProfile
	MessageAnnotation  = domain.MessageAnnotation
	ConversationState  = domain.ConversationState
	TopicCategory      = domain.TopicCategory

	StageStartPayload    = domain.StageStartPayload
	StageCompletePayload = domain.StageCompletePayload
	StageErrorPayload    = domain.StageErrorPayload
	CompletePayload      = domain.CompletePayload
	ErrorPayload         = domain.ErrorPayload
)

// Event type values emitted on a run stream.
const (
	EventStageStart    = string(domain.EventTypeStageStart)
	EventStageComplete = string(domain.EventTypeStageComplete)
	EventStageError    = string(domain.EventTypeStageError)
	EventComplete      = string(domain.EventTypeComplete)
	EventError         = string(domain.EventTypeError)
)

// RunRequest is the body of a streaming run request. ResumeFromStage picks
// the stage to restart from; when empty the service resumes after the last
// persisted stage, or from the beginning for a fresh run.
type RunRequest struct {
	SubjectID       string                     `json:"subjectId"`
	Messages        []Message                  `json:"messages"`
	Participants    []Participant              `json:"participants,omitempty"`
	Agreements      []Agreement                `json:"agreements,omitempty"`
	TrackedIssues   []TrackedIssue             `json:"trackedIssues,omitempty"`
	Guidance        string                     `json:"guidance,omitempty"`
	ResumeFromStage string                     `json:"resumeFromStage,omitempty"`
	PriorOutputs    map[string]json.RawMessage `json:"priorOutputs,omitempty"`
}

// Run is the service's view of an analysis run.
type Run struct {
	ID              string                     `json:"id"`
	SubjectID       string                     `json:"subjectId"`
	Status          string                     `json:"status"`
	CurrentStage    string                     `json:"currentStage,omitempty"`
	StageOutputs    map[string]json.RawMessage `json:"stageOutputs,omitempty"`
	FailureStage    string                     `json:"failureStage,omitempty"`
	FailureReason   string                     `json:"failureReason,omitempty"`
	CreatedAt       time.Time                  `json:"createdAt"`
	CompletedAt     *time.Time                 `json:"completedAt,omitempty"`
	CompletedStages []string                   `json:"completedStages,omitempty"`
	TotalStages     int                        `json:"totalStages,omitempty"`
}

// Event is a single decoded stream event. Type selects which payload
// field is populated.
type Event struct {
	Type          string
	StageStart    *StageStartPayload
	StageComplete *StageCompletePayload
	StageError    *StageErrorPayload
	Complete      *CompletePayload
	Err           *ErrorPayload
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return domain.EventType(e.Type).Terminal()
}

// APIError is a non-streaming error response from the service.
type APIError struct {
	Type       string `json:"type"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Stage      string `json:"stage,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// RunFailure is the terminal failure of a streamed run, from either a
// stage_error or a run-level error event. Stage is empty for run-level
// failures.
type RunFailure struct {
	Stage           string
	Message         string
	CompletedStages []string
}

func (f *RunFailure) Error() string {
	if f.Stage != "" {
		return fmt.Sprintf("run failed at stage %s: %s", f.Stage, f.Message)
	}
	return "run failed: " + f.Message
}
