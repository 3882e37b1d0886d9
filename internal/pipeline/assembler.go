package pipeline

import (
	"encoding/json"

	"github.com/accordly/case-insight/internal/domain"
)

// AssembleResult merges stage outputs into the unified result. It is pure
// and never fails: a missing or undecodable stage output falls back to its
// documented default, so a partially analyzed run still renders.
//
// Defaults: empty collections, overallTone "neutral", conversation status
// "open" with nobody pending. Issue actions concatenate issue_linking's
// before issue_detection's, preserving each stage's order.
func AssembleResult(outputs domain.StageOutputs) *domain.UnifiedResult {
	result := &domain.UnifiedResult{
		OverallTone:         "neutral",
		Topics:              []domain.Topic{},
		VerifiedClaims:      []domain.VerifiedClaim{},
		IssueActions:        []domain.IssueAction{},
		Violations:          []domain.AgreementViolation{},
		ParticipantProfiles: []domain.ParticipantProfile{},
		Annotations:         []domain.MessageAnnotation{},
		ConversationState:   domain.ConversationState{Status: "open"},
		TopicCategories:     []domain.TopicCategory{},
	}

	var mapping domain.ConversationMapOutput
	if decodeOutput(outputs, StageConversationMapping, &mapping) {
		result.Summary = mapping.Summary
		if mapping.OverallTone != "" {
			result.OverallTone = mapping.OverallTone
		}
		if len(mapping.Topics) > 0 {
			result.Topics = mapping.Topics
		}
	}

	var claims domain.ClaimsVerificationOutput
	if decodeOutput(outputs, StageClaimsVerification, &claims) && len(claims.Claims) > 0 {
		result.VerifiedClaims = claims.Claims
	}

	var linking domain.IssueLinkingOutput
	if decodeOutput(outputs, StageIssueLinking, &linking) {
		result.IssueActions = append(result.IssueActions, linking.IssueActions...)
	}
	var detection domain.IssueDetectionOutput
	if decodeOutput(outputs, StageIssueDetection, &detection) {
		result.IssueActions = append(result.IssueActions, detection.IssueActions...)
	}
	for i := range result.IssueActions {
		deriveInvolved(&result.IssueActions[i])
	}

	var checks domain.AgreementChecksOutput
	if decodeOutput(outputs, StageAgreementChecks, &checks) && len(checks.Violations) > 0 {
		result.Violations = checks.Violations
	}

	var analysis domain.ParticipantAnalysisOutput
	if decodeOutput(outputs, StageParticipantAnalysis, &analysis) && len(analysis.Profiles) > 0 {
		result.ParticipantProfiles = analysis.Profiles
	}

	var annotation domain.MessageAnnotationOutput
	if decodeOutput(outputs, StageMessageAnnotation, &annotation) && len(annotation.Annotations) > 0 {
		result.Annotations = annotation.Annotations
	}

	var synthesis domain.SynthesisOutput
	if decodeOutput(outputs, StageSynthesis, &synthesis) {
		if synthesis.ConversationState.Status != "" {
			result.ConversationState = synthesis.ConversationState
		}
		if len(synthesis.TopicCategories) > 0 {
			result.TopicCategories = synthesis.TopicCategories
		}
	}

	return result
}

func decodeOutput(outputs domain.StageOutputs, stageID string, dst any) bool {
	raw, ok := outputs[stageID]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dst) == nil
}

// deriveInvolved fills the flat involved-person list from the contribution
// breakdown when the stage omitted it. Order follows the breakdown; a person
// appearing in several contributions is listed once.
func deriveInvolved(action *domain.IssueAction) {
	if len(action.InvolvedPersonIDs) > 0 || len(action.Contributions) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(action.Contributions))
	for _, c := range action.Contributions {
		if c.PersonID == "" {
			continue
		}
		if _, ok := seen[c.PersonID]; ok {
			continue
		}
		seen[c.PersonID] = struct{}{}
		action.InvolvedPersonIDs = append(action.InvolvedPersonIDs, c.PersonID)
	}
}
