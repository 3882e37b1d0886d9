package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/accordly/case-insight/internal/domain"
)

func TestAssembleResult_EmptyDefaults(t *testing.T) {
	result := AssembleResult(domain.StageOutputs{})

	if result.Summary != "" {
		t.Errorf("Summary = %q, want empty", result.Summary)
	}
	if result.OverallTone != "neutral" {
		t.Errorf("OverallTone = %q, want %q", result.OverallTone, "neutral")
	}
	if result.ConversationState.Status != "open" || result.ConversationState.PendingResponder != "" {
		t.Errorf("ConversationState = %+v, want open with nobody pending", result.ConversationState)
	}

	// Collections render as empty lists, never null.
	if result.Topics == nil || len(result.Topics) != 0 {
		t.Errorf("Topics = %v, want empty non-nil", result.Topics)
	}
	if result.VerifiedClaims == nil || len(result.VerifiedClaims) != 0 {
		t.Errorf("VerifiedClaims = %v, want empty non-nil", result.VerifiedClaims)
	}
	if result.IssueActions == nil || len(result.IssueActions) != 0 {
		t.Errorf("IssueActions = %v, want empty non-nil", result.IssueActions)
	}
	if result.Violations == nil || len(result.Violations) != 0 {
		t.Errorf("Violations = %v, want empty non-nil", result.Violations)
	}
	if result.ParticipantProfiles == nil || len(result.ParticipantProfiles) != 0 {
		t.Errorf("ParticipantProfiles = %v, want empty non-nil", result.ParticipantProfiles)
	}
	if result.Annotations == nil || len(result.Annotations) != 0 {
		t.Errorf("Annotations = %v, want empty non-nil", result.Annotations)
	}
	if result.TopicCategories == nil || len(result.TopicCategories) != 0 {
		t.Errorf("TopicCategories = %v, want empty non-nil", result.TopicCategories)
	}
}

func TestAssembleResult_MergesAllStages(t *testing.T) {
	outputs := domain.StageOutputs{
		StageConversationMapping: json.RawMessage(`{"summary":"heated rent dispute","overallTone":"tense","topics":[{"name":"rent","sentiment":"negative","firstMessageId":"m1"}]}`),
		StageClaimsVerification:  json.RawMessage(`{"claims":[{"messageId":"m2","claim":"rent was paid on the third","verdict":"contradicted","basis":"m4 shows the transfer on the ninth"}]}`),
		StageIssueLinking:        json.RawMessage(`{"issueActions":[{"action":"link","issueId":"iss-1","summary":"late rent recurs"}]}`),
		StageIssueDetection:      json.RawMessage(`{"issueActions":[{"action":"open","title":"deposit dispute","summary":"deposit withheld without cause"}]}`),
		StageAgreementChecks:     json.RawMessage(`{"violations":[{"agreementId":"agr-1","messageId":"m3","detail":"payment after the first","severity":"medium"}]}`),
		StageParticipantAnalysis: json.RawMessage(`{"profiles":[{"personId":"p1","tone":"frustrated","traits":["insistent"],"engagement":"active"}]}`),
		StageMessageAnnotation:   json.RawMessage(`{"annotations":[{"messageId":"m2","kind":"contradicted_claim","note":"contradicted by m4"}]}`),
		StageSynthesis:           json.RawMessage(`{"conversationState":{"status":"escalated","pendingResponder":"p2"},"topicCategories":[{"category":"payments","topics":["rent"]}]}`),
	}

	result := AssembleResult(outputs)

	if result.Summary != "heated rent dispute" || result.OverallTone != "tense" {
		t.Errorf("mapping fields = %q/%q", result.Summary, result.OverallTone)
	}
	if len(result.Topics) != 1 || result.Topics[0].Name != "rent" {
		t.Errorf("Topics = %+v", result.Topics)
	}
	if len(result.VerifiedClaims) != 1 || result.VerifiedClaims[0].Verdict != "contradicted" {
		t.Errorf("VerifiedClaims = %+v", result.VerifiedClaims)
	}
	if len(result.Violations) != 1 || result.Violations[0].AgreementID != "agr-1" {
		t.Errorf("Violations = %+v", result.Violations)
	}
	if len(result.ParticipantProfiles) != 1 || result.ParticipantProfiles[0].PersonID != "p1" {
		t.Errorf("ParticipantProfiles = %+v", result.ParticipantProfiles)
	}
	if len(result.Annotations) != 1 || result.Annotations[0].Kind != "contradicted_claim" {
		t.Errorf("Annotations = %+v", result.Annotations)
	}
	if result.ConversationState.Status != "escalated" || result.ConversationState.PendingResponder != "p2" {
		t.Errorf("ConversationState = %+v", result.ConversationState)
	}
	if len(result.TopicCategories) != 1 || result.TopicCategories[0].Category != "payments" {
		t.Errorf("TopicCategories = %+v", result.TopicCategories)
	}

	// Linking's actions come before detection's.
	if len(result.IssueActions) != 2 {
		t.Fatalf("IssueActions = %+v, want 2", result.IssueActions)
	}
	if result.IssueActions[0].Action != "link" || result.IssueActions[0].IssueID != "iss-1" {
		t.Errorf("first action = %+v, want the link action", result.IssueActions[0])
	}
	if result.IssueActions[1].Action != "open" || result.IssueActions[1].Title != "deposit dispute" {
		t.Errorf("second action = %+v, want the open action", result.IssueActions[1])
	}
}

func TestAssembleResult_DerivesInvolvedPersons(t *testing.T) {
	outputs := domain.StageOutputs{
		StageIssueLinking: json.RawMessage(`{"issueActions":[
			{"action":"link","issueId":"iss-1","contributions":[
				{"personId":"p1","role":"raised"},
				{"personId":"p2","role":"responded"},
				{"personId":"p1","role":"disputed"},
				{"personId":"","role":"raised"}
			]},
			{"action":"link","issueId":"iss-2","involvedPersonIds":["p9"],"contributions":[{"personId":"p1","role":"raised"}]}
		]}`),
	}

	result := AssembleResult(outputs)
	if len(result.IssueActions) != 2 {
		t.Fatalf("IssueActions = %+v, want 2", result.IssueActions)
	}

	derived := result.IssueActions[0].InvolvedPersonIDs
	if len(derived) != 2 || derived[0] != "p1" || derived[1] != "p2" {
		t.Errorf("derived involved persons = %v, want [p1 p2]", derived)
	}

	explicit := result.IssueActions[1].InvolvedPersonIDs
	if len(explicit) != 1 || explicit[0] != "p9" {
		t.Errorf("explicit involved persons = %v, want [p9] untouched", explicit)
	}
}

func TestAssembleResult_UndecodableOutputFallsBack(t *testing.T) {
	outputs := domain.StageOutputs{
		StageConversationMapping: json.RawMessage(`{{{not json`),
		StageAgreementChecks:     json.RawMessage(`{"violations":[{"agreementId":"agr-1","detail":"late payment","severity":"low"}]}`),
	}

	result := AssembleResult(outputs)
	if result.Summary != "" || result.OverallTone != "neutral" {
		t.Errorf("broken mapping output should fall back to defaults, got %q/%q", result.Summary, result.OverallTone)
	}
	if len(result.Violations) != 1 {
		t.Errorf("intact stage output was not merged: %+v", result.Violations)
	}
}

func TestAssembleResult_PartialRun(t *testing.T) {
	outputs := domain.StageOutputs{
		StageConversationMapping: json.RawMessage(`{"summary":"brief exchange","overallTone":"friendly","topics":[]}`),
	}

	result := AssembleResult(outputs)
	if result.Summary != "brief exchange" || result.OverallTone != "friendly" {
		t.Errorf("mapping fields = %q/%q", result.Summary, result.OverallTone)
	}
	if len(result.IssueActions) != 0 || len(result.Violations) != 0 {
		t.Error("absent stages should leave empty defaults")
	}
	if result.ConversationState.Status != "open" {
		t.Errorf("ConversationState.Status = %q, want %q", result.ConversationState.Status, "open")
	}
}
