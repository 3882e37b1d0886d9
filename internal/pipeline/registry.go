package pipeline

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/accordly/case-insight/internal/domain"
)

// Stage ids, in registry order.
const (
	StageConversationMapping = "conversation_mapping"
	StageClaimsVerification  = "claims_verification"
	StageIssueLinking        = "issue_linking"
	StageIssueDetection      = "issue_detection"
	StageAgreementChecks     = "agreement_checks"
	StageParticipantAnalysis = "participant_analysis"
	StageMessageAnnotation   = "message_annotation"
	StageSynthesis           = "synthesis"
)

// StageRequest is the prompt pair one stage sends to the reasoning service.
type StageRequest struct {
	System string
	User   string
}

// BuildFunc builds a stage request from the immutable pipeline context and
// prior stage outputs. Builders are pure and total: a missing prior renders
// as an absent section, never an error.
type BuildFunc func(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest

// ValidateFunc checks one stage's raw output for structural validity and
// returns ErrorTypeParse when it does not satisfy the stage's shape.
type ValidateFunc func(raw json.RawMessage) error

// Stage is one registry entry. DependsOn lists the ids of the prior outputs
// the stage's builder consumes; every entry has a lower ordinal than the
// stage itself.
type Stage struct {
	ID        string
	Name      string
	DependsOn []string
	Build     BuildFunc
	Validate  ValidateFunc
}

// stages is the fixed execution order. Stage i may only consume outputs of
// stages 0..i-1; the dependency declarations below are checked by tests.
var stages = []Stage{
	{
		ID:       StageConversationMapping,
		Name:     "Conversation mapping",
		Build:    buildConversationMapping,
		Validate: validateConversationMapping,
	},
	{
		ID:        StageClaimsVerification,
		Name:      "Claims verification",
		DependsOn: []string{StageConversationMapping},
		Build:     buildClaimsVerification,
		Validate:  validateClaimsVerification,
	},
	{
		ID:        StageIssueLinking,
		Name:      "Issue linking",
		DependsOn: []string{StageConversationMapping},
		Build:     buildIssueLinking,
		Validate:  validateIssueLinking,
	},
	{
		ID:        StageIssueDetection,
		Name:      "Issue detection",
		DependsOn: []string{StageConversationMapping, StageIssueLinking},
		Build:     buildIssueDetection,
		Validate:  validateIssueDetection,
	},
	{
		ID:        StageAgreementChecks,
		Name:      "Agreement checks",
		DependsOn: []string{StageConversationMapping},
		Build:     buildAgreementChecks,
		Validate:  validateAgreementChecks,
	},
	{
		ID:        StageParticipantAnalysis,
		Name:      "Participant behavioral analysis",
		DependsOn: []string{StageConversationMapping, StageAgreementChecks},
		Build:     buildParticipantAnalysis,
		Validate:  validateParticipantAnalysis,
	},
	{
		ID:        StageMessageAnnotation,
		Name:      "Message annotation",
		DependsOn: []string{StageClaimsVerification, StageAgreementChecks},
		Build:     buildMessageAnnotation,
		Validate:  validateMessageAnnotation,
	},
	{
		ID:   StageSynthesis,
		Name: "Synthesis",
		DependsOn: []string{
			StageConversationMapping,
			StageClaimsVerification,
			StageIssueLinking,
			StageIssueDetection,
			StageAgreementChecks,
			StageParticipantAnalysis,
			StageMessageAnnotation,
		},
		Build:    buildSynthesis,
		Validate: validateSynthesis,
	},
}

var stageIndex = func() map[string]int {
	m := make(map[string]int, len(stages))
	for i, s := range stages {
		m[s.ID] = i
	}
	return m
}()

// Stages returns the registry in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// StageAt returns the stage at ordinal i.
func StageAt(i int) (Stage, bool) {
	if i < 0 || i >= len(stages) {
		return Stage{}, false
	}
	return stages[i], true
}

// IndexOf returns the ordinal of stageID, or false for an unknown id.
func IndexOf(stageID string) (int, bool) {
	i, ok := stageIndex[stageID]
	return i, ok
}

// TotalStages returns the number of registered stages.
func TotalStages() int {
	return len(stages)
}

// Prompt construction.

func renderTranscript(messages []domain.Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.ID)
		b.WriteString(" | ")
		b.WriteString(m.SentAt.UTC().Format(time.RFC3339))
		b.WriteString(" | ")
		b.WriteString(m.SenderID)
		b.WriteString(": ")
		b.WriteString(m.Body)
		b.WriteByte('\n')
	}
	return b.String()
}

func renderParticipants(participants []domain.Participant) string {
	var b strings.Builder
	for _, p := range participants {
		b.WriteString(p.ID)
		b.WriteString(" | ")
		b.WriteString(p.DisplayName)
		if p.Role != "" {
			b.WriteString(" | ")
			b.WriteString(p.Role)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func renderAgreements(agreements []domain.Agreement) string {
	var b strings.Builder
	for _, a := range agreements {
		b.WriteString(a.ID)
		b.WriteString(" | ")
		b.WriteString(a.Title)
		if a.Terms != "" {
			b.WriteString(": ")
			b.WriteString(a.Terms)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func renderTrackedIssues(issues []domain.TrackedIssue) string {
	var b strings.Builder
	for _, is := range issues {
		b.WriteString(is.ID)
		b.WriteString(" | ")
		if is.Status != "" {
			b.WriteString("[")
			b.WriteString(is.Status)
			b.WriteString("] ")
		}
		b.WriteString(is.Title)
		if is.Summary != "" {
			b.WriteString(": ")
			b.WriteString(is.Summary)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// renderPriors embeds earlier stage outputs as labeled JSON blocks, in the
// order given. Absent ids are skipped.
func renderPriors(priors domain.StageOutputs, ids ...string) string {
	var b strings.Builder
	for _, id := range ids {
		raw, ok := priors[id]
		if !ok {
			continue
		}
		b.WriteString("### ")
		b.WriteString(id)
		b.WriteByte('\n')
		b.Write(raw)
		b.WriteByte('\n')
	}
	return b.String()
}

func writeSection(b *strings.Builder, title, body string) {
	if body == "" {
		return
	}
	b.WriteString("## ")
	b.WriteString(title)
	b.WriteByte('\n')
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
}

const transcriptFormatNote = "Transcript lines are formatted as: messageId | sentAt | senderId: body. " +
	"Participant lines are formatted as: personId | display name | role. " +
	"Always reference messages and people by their ids."

func buildConversationMapping(pctx *domain.PipelineContext, _ domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Participants", renderParticipants(pctx.Participants))
	writeSection(&b, "Transcript", renderTranscript(pctx.Messages))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: conversationMappingPrompt, User: b.String()}
}

func buildClaimsVerification(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Prior analysis", renderPriors(priors, StageConversationMapping))
	writeSection(&b, "Participants", renderParticipants(pctx.Participants))
	writeSection(&b, "Transcript", renderTranscript(pctx.Messages))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: claimsVerificationPrompt, User: b.String()}
}

func buildIssueLinking(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Prior analysis", renderPriors(priors, StageConversationMapping))
	writeSection(&b, "Tracked issues", renderTrackedIssues(pctx.TrackedIssues))
	writeSection(&b, "Transcript", renderTranscript(pctx.Messages))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: issueLinkingPrompt, User: b.String()}
}

func buildIssueDetection(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Prior analysis", renderPriors(priors, StageConversationMapping, StageIssueLinking))
	writeSection(&b, "Tracked issues", renderTrackedIssues(pctx.TrackedIssues))
	writeSection(&b, "Transcript", renderTranscript(pctx.Messages))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: issueDetectionPrompt, User: b.String()}
}

func buildAgreementChecks(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Prior analysis", renderPriors(priors, StageConversationMapping))
	writeSection(&b, "Active agreements", renderAgreements(pctx.Agreements))
	writeSection(&b, "Transcript", renderTranscript(pctx.Messages))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: agreementChecksPrompt, User: b.String()}
}

func buildParticipantAnalysis(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Prior analysis", renderPriors(priors, StageConversationMapping, StageAgreementChecks))
	writeSection(&b, "Participants", renderParticipants(pctx.Participants))
	writeSection(&b, "Transcript", renderTranscript(pctx.Messages))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: participantAnalysisPrompt, User: b.String()}
}

func buildMessageAnnotation(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Prior analysis", renderPriors(priors, StageClaimsVerification, StageAgreementChecks))
	writeSection(&b, "Transcript", renderTranscript(pctx.Messages))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: messageAnnotationPrompt, User: b.String()}
}

// Synthesis works over the distilled stage outputs rather than the raw
// transcript; the priors already carry everything it categorizes.
func buildSynthesis(pctx *domain.PipelineContext, priors domain.StageOutputs) StageRequest {
	var b strings.Builder
	writeSection(&b, "Participants", renderParticipants(pctx.Participants))
	writeSection(&b, "Stage outputs", renderPriors(priors,
		StageConversationMapping,
		StageClaimsVerification,
		StageIssueLinking,
		StageIssueDetection,
		StageAgreementChecks,
		StageParticipantAnalysis,
		StageMessageAnnotation,
	))
	writeSection(&b, "Operator guidance", pctx.Guidance)
	return StageRequest{System: synthesisPrompt, User: b.String()}
}

// Output validation.

// decodeStagePayload checks raw is a JSON object carrying every required
// top-level field, then decodes it into dst. Both failures are parse errors;
// a missing field is distinguished by its error code.
func decodeStagePayload(raw json.RawMessage, dst any, required ...string) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return domain.ErrParse("stage output is not a JSON object: " + err.Error())
	}
	for _, key := range required {
		if _, ok := probe[key]; !ok {
			return domain.ErrParse("stage output missing required field " + key).
				WithCode(domain.ErrorCodeMissingField)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.ErrParse("stage output does not match the expected shape: " + err.Error())
	}
	return nil
}

func validateConversationMapping(raw json.RawMessage) error {
	var out domain.ConversationMapOutput
	return decodeStagePayload(raw, &out, "summary", "overallTone", "topics")
}

func validateClaimsVerification(raw json.RawMessage) error {
	var out domain.ClaimsVerificationOutput
	return decodeStagePayload(raw, &out, "claims")
}

func validateIssueLinking(raw json.RawMessage) error {
	var out domain.IssueLinkingOutput
	return decodeStagePayload(raw, &out, "issueActions")
}

func validateIssueDetection(raw json.RawMessage) error {
	var out domain.IssueDetectionOutput
	return decodeStagePayload(raw, &out, "issueActions")
}

func validateAgreementChecks(raw json.RawMessage) error {
	var out domain.AgreementChecksOutput
	return decodeStagePayload(raw, &out, "violations")
}

func validateParticipantAnalysis(raw json.RawMessage) error {
	var out domain.ParticipantAnalysisOutput
	return decodeStagePayload(raw, &out, "profiles")
}

func validateMessageAnnotation(raw json.RawMessage) error {
	var out domain.MessageAnnotationOutput
	return decodeStagePayload(raw, &out, "annotations")
}

func validateSynthesis(raw json.RawMessage) error {
	var out domain.SynthesisOutput
	return decodeStagePayload(raw, &out, "conversationState", "topicCategories")
}

// Stage system prompts. Every prompt demands a single JSON object so the
// response_format constraint and the validators agree on shape.

const conversationMappingPrompt = `You are an analyst for a case-management service. You review conversations between the parties of a case.

Map the conversation: identify the distinct discussion topics, judge the overall tone, and write a short factual summary. Do not speculate beyond the transcript.

` + transcriptFormatNote + `

Respond with a single JSON object:
{
  "summary": "<two to four sentence factual summary>",
  "overallTone": "<one of: friendly, cooperative, neutral, tense, hostile>",
  "topics": [
    {"name": "<topic>", "sentiment": "<positive|neutral|negative>", "firstMessageId": "<id of the message that opens the topic>"}
  ]
}`

const claimsVerificationPrompt = `You are an analyst for a case-management service. You verify factual claims made in a conversation between the parties of a case.

Extract each checkable factual claim a participant makes and judge it against the rest of the transcript. Use verdict "supported" when other messages corroborate it, "contradicted" when they conflict with it, and "unverifiable" when the transcript alone cannot settle it. Ignore opinions and feelings.

` + transcriptFormatNote + `

Respond with a single JSON object:
{
  "claims": [
    {"messageId": "<id of the message making the claim>", "claim": "<the claim, paraphrased>", "verdict": "<supported|contradicted|unverifiable>", "basis": "<short justification citing message ids>"}
  ]
}`

const issueLinkingPrompt = `You are an analyst for a case-management service. A set of issues is already tracked for this case.

Decide which tracked issues this conversation bears on. For each tracked issue the conversation discusses, advances, or disputes, emit a link action referencing the existing issue id. Never invent new issues in this pass and never link an issue the conversation does not actually touch.

` + transcriptFormatNote + `

Respond with a single JSON object:
{
  "issueActions": [
    {"action": "link", "issueId": "<existing tracked issue id>", "summary": "<what the conversation adds to this issue>", "involvedPersonIds": ["<personId>"], "contributions": [{"personId": "<personId>", "role": "<raised|responded|disputed>", "detail": "<one line>"}]}
  ]
}

Return an empty issueActions array when the conversation touches no tracked issue.`

const issueDetectionPrompt = `You are an analyst for a case-management service. You detect new issues in a conversation between the parties of a case.

The prior analysis lists the issues already linked to this conversation. Find substantive disputes or problems the conversation raises that are not covered by a tracked issue, and emit an open action for each. Do not duplicate anything the linking pass already covered; minor friction that resolves within the conversation is not an issue.

` + transcriptFormatNote + `

Respond with a single JSON object:
{
  "issueActions": [
    {"action": "open", "title": "<short issue title>", "summary": "<what the dispute is about>", "involvedPersonIds": ["<personId>"], "contributions": [{"personId": "<personId>", "role": "<raised|responded|disputed>", "detail": "<one line>"}]}
  ]
}

Return an empty issueActions array when no new issue emerges.`

const agreementChecksPrompt = `You are an analyst for a case-management service. You check a conversation against the active agreements between the parties.

For each agreement item, decide whether anything said in the conversation breaches it. Report only breaches the transcript itself evidences; cite the breaching message when one message carries the breach.

` + transcriptFormatNote + `

Respond with a single JSON object:
{
  "violations": [
    {"agreementId": "<id of the breached agreement>", "messageId": "<id of the breaching message, omit if spread across messages>", "detail": "<what was breached and how>", "severity": "<low|medium|high>"}
  ]
}

Return an empty violations array when no agreement is breached.`

const participantAnalysisPrompt = `You are an analyst for a case-management service. You profile how each participant behaves in a conversation.

For every participant who wrote at least one message, describe their tone, notable behavioral traits, and engagement level. Ground every observation in the transcript; the prior analysis gives you the conversation's shape and any agreement breaches to weigh.

` + transcriptFormatNote + `

Respond with a single JSON object:
{
  "profiles": [
    {"personId": "<personId>", "tone": "<dominant tone>", "traits": ["<short trait>"], "engagement": "<active|reactive|withdrawn>"}
  ]
}`

const messageAnnotationPrompt = `You are an analyst for a case-management service. You annotate individual messages that deserve attention.

Mark messages that carry a contradicted claim, breach an agreement, use hostile or manipulative language, or make a commitment. Use one annotation per finding; a message can carry several. Skip unremarkable messages entirely.

` + transcriptFormatNote + `

Respond with a single JSON object:
{
  "annotations": [
    {"messageId": "<id>", "kind": "<contradicted_claim|agreement_breach|hostile|commitment>", "note": "<one line>"}
  ]
}

Return an empty annotations array when nothing stands out.`

const synthesisPrompt = `You are an analyst for a case-management service. You synthesize the results of the preceding analysis passes into a final read on the conversation.

Judge the conversation's end state: "resolved" when the discussed matters reached closure, "open" when unfinished, "escalated" when it ended worse than it began. When one participant owes the next substantive reply, name them as the pending responder. Then group the mapped topics into a small set of category labels.

Work only from the stage outputs provided; do not re-derive findings.

Respond with a single JSON object:
{
  "conversationState": {"status": "<resolved|open|escalated>", "pendingResponder": "<personId, omit if nobody owes a reply>"},
  "topicCategories": [
    {"category": "<label>", "topics": ["<topic name>"]}
  ]
}`
