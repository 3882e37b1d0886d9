package domain

// UnifiedResult merges every stage's output into the single object returned
// to the caller in the terminal complete event.
type UnifiedResult struct {
	Summary             string               `json:"summary"`
	OverallTone         string               `json:"overallTone"`
	Topics              []Topic              `json:"topics"`
	VerifiedClaims      []VerifiedClaim      `json:"verifiedClaims"`
	IssueActions        []IssueAction        `json:"issueActions"`
	Violations          []AgreementViolation `json:"violations"`
	ParticipantProfiles []ParticipantProfile `json:"participantProfiles"`
	Annotations         []MessageAnnotation  `json:"annotations"`
	ConversationState   ConversationState    `json:"conversationState"`
	TopicCategories     []TopicCategory      `json:"topicCategories"`
}
