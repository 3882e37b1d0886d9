package domain

import "time"

// Participant represents one party in the analyzed conversation.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// Message represents one transcript entry.
type Message struct {
	ID       string    `json:"id"`
	SenderID string    `json:"senderId"`
	SentAt   time.Time `json:"sentAt"`
	Body     string    `json:"body"`
}

// Agreement represents an active agreement or rule item the conversation is
// checked against.
type Agreement struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Terms string `json:"terms,omitempty"`
}

// TrackedIssue represents a pre-existing issue already tracked for the subject.
type TrackedIssue struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Status  string `json:"status,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// ContextInputs are the raw records a pipeline context is assembled from.
type ContextInputs struct {
	SubjectID     string         `json:"subjectId"`
	Messages      []Message      `json:"messages"`
	Participants  []Participant  `json:"participants"`
	Agreements    []Agreement    `json:"agreements,omitempty"`
	TrackedIssues []TrackedIssue `json:"trackedIssues,omitempty"`

	// Guidance is optional free-text operator guidance passed through to
	// every stage request.
	Guidance string `json:"guidance,omitempty"`
}

// PipelineContext is the immutable snapshot every stage executes against.
// It is built once per run and never mutated afterwards; all stage executors
// receive the same value.
type PipelineContext struct {
	SubjectID     string
	Messages      []Message
	Participants  []Participant
	Agreements    []Agreement
	TrackedIssues []TrackedIssue
	Guidance      string

	// TranscriptTokens is the estimated token footprint of the transcript,
	// attached for logging and tracing.
	TranscriptTokens int

	// TokensEstimated is true when TranscriptTokens came from the fallback
	// estimator rather than a model tokenizer.
	TokensEstimated bool
}
