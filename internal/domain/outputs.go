package domain

// Typed per-stage outputs. Each stage's raw JSON output decodes into exactly
// one of these; optional-field defaulting happens once, in the result
// assembler, not in consumers.

// Topic is one discussion thread identified by conversation mapping.
type Topic struct {
	Name           string `json:"name"`
	Sentiment      string `json:"sentiment,omitempty"`
	FirstMessageID string `json:"firstMessageId,omitempty"`
}

// ConversationMapOutput is the conversation_mapping stage output.
type ConversationMapOutput struct {
	Summary     string  `json:"summary"`
	OverallTone string  `json:"overallTone"`
	Topics      []Topic `json:"topics"`
}

// VerifiedClaim is one factual claim checked by claims verification.
type VerifiedClaim struct {
	MessageID string `json:"messageId"`
	Claim     string `json:"claim"`
	Verdict   string `json:"verdict"`
	Basis     string `json:"basis,omitempty"`
}

// ClaimsVerificationOutput is the claims_verification stage output.
type ClaimsVerificationOutput struct {
	Claims []VerifiedClaim `json:"claims"`
}

// PersonContribution is a per-person breakdown entry on an issue action.
type PersonContribution struct {
	PersonID string `json:"personId"`
	Role     string `json:"role,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// IssueAction is one proposed change to the tracked-issue set. Link actions
// reference an existing issue id; open actions carry a new title/summary.
// InvolvedPersonIDs may be omitted when Contributions carries the richer
// per-person breakdown; the assembler derives the flat list in that case.
type IssueAction struct {
	Action            string               `json:"action"`
	IssueID           string               `json:"issueId,omitempty"`
	Title             string               `json:"title,omitempty"`
	Summary           string               `json:"summary,omitempty"`
	InvolvedPersonIDs []string             `json:"involvedPersonIds,omitempty"`
	Contributions     []PersonContribution `json:"contributions,omitempty"`
}

// IssueLinkingOutput is the issue_linking stage output.
type IssueLinkingOutput struct {
	IssueActions []IssueAction `json:"issueActions"`
}

// IssueDetectionOutput is the issue_detection stage output.
type IssueDetectionOutput struct {
	IssueActions []IssueAction `json:"issueActions"`
}

// AgreementViolation is one detected breach of an active agreement item.
type AgreementViolation struct {
	AgreementID string `json:"agreementId"`
	MessageID   string `json:"messageId,omitempty"`
	Detail      string `json:"detail"`
	Severity    string `json:"severity,omitempty"`
}

// AgreementChecksOutput is the agreement_checks stage output.
type AgreementChecksOutput struct {
	Violations []AgreementViolation `json:"violations"`
}

// ParticipantProfile is the behavioral read on one participant.
type ParticipantProfile struct {
	PersonID   string   `json:"personId"`
	Tone       string   `json:"tone,omitempty"`
	Traits     []string `json:"traits,omitempty"`
	Engagement string   `json:"engagement,omitempty"`
}

// ParticipantAnalysisOutput is the participant_analysis stage output.
type ParticipantAnalysisOutput struct {
	Profiles []ParticipantProfile `json:"profiles"`
}

// MessageAnnotation is one per-message note from the annotation stage.
type MessageAnnotation struct {
	MessageID string `json:"messageId"`
	Kind      string `json:"kind"`
	Note      string `json:"note,omitempty"`
}

// MessageAnnotationOutput is the message_annotation stage output.
type MessageAnnotationOutput struct {
	Annotations []MessageAnnotation `json:"annotations"`
}

// ConversationState is the synthesized end state of the conversation.
type ConversationState struct {
	Status           string `json:"status"`
	PendingResponder string `json:"pendingResponder,omitempty"`
}

// TopicCategory groups topics under a synthesized category label.
type TopicCategory struct {
	Category string   `json:"category"`
	Topics   []string `json:"topics"`
}

// SynthesisOutput is the synthesis stage output.
type SynthesisOutput struct {
	ConversationState ConversationState `json:"conversationState"`
	TopicCategories   []TopicCategory   `json:"topicCategories"`
}
