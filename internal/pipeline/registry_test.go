package pipeline

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/accordly/case-insight/internal/domain"
)

func TestStages_RegistryOrder(t *testing.T) {
	want := []string{
		StageConversationMapping,
		StageClaimsVerification,
		StageIssueLinking,
		StageIssueDetection,
		StageAgreementChecks,
		StageParticipantAnalysis,
		StageMessageAnnotation,
		StageSynthesis,
	}

	got := Stages()
	if len(got) != len(want) {
		t.Fatalf("registry has %d stages, want %d", len(got), len(want))
	}
	for i, s := range got {
		if s.ID != want[i] {
			t.Errorf("stage %d = %q, want %q", i, s.ID, want[i])
		}
		if s.Name == "" {
			t.Errorf("stage %q has no display name", s.ID)
		}
		if s.Build == nil || s.Validate == nil {
			t.Errorf("stage %q is missing a builder or validator", s.ID)
		}
	}
	if TotalStages() != len(want) {
		t.Errorf("TotalStages() = %d, want %d", TotalStages(), len(want))
	}
}

func TestStages_DependenciesPrecede(t *testing.T) {
	for i, s := range Stages() {
		for _, dep := range s.DependsOn {
			idx, ok := IndexOf(dep)
			if !ok {
				t.Errorf("stage %q depends on unknown stage %q", s.ID, dep)
				continue
			}
			if idx >= i {
				t.Errorf("stage %q depends on %q, which does not precede it", s.ID, dep)
			}
		}
	}
}

func TestIndexOf(t *testing.T) {
	if i, ok := IndexOf(StageConversationMapping); !ok || i != 0 {
		t.Errorf("IndexOf(%q) = %d, %v; want 0, true", StageConversationMapping, i, ok)
	}
	if i, ok := IndexOf(StageSynthesis); !ok || i != TotalStages()-1 {
		t.Errorf("IndexOf(%q) = %d, %v; want %d, true", StageSynthesis, i, ok, TotalStages()-1)
	}
	if _, ok := IndexOf("no_such_stage"); ok {
		t.Error("IndexOf accepted an unknown stage id")
	}
}

func TestStageAt(t *testing.T) {
	if s, ok := StageAt(0); !ok || s.ID != StageConversationMapping {
		t.Errorf("StageAt(0) = %q, %v", s.ID, ok)
	}
	if _, ok := StageAt(-1); ok {
		t.Error("StageAt(-1) should be out of range")
	}
	if _, ok := StageAt(TotalStages()); ok {
		t.Error("StageAt(TotalStages()) should be out of range")
	}
}

// ============================================================================
// Prompt Builder Tests
// ============================================================================

func TestBuilders_TotalWithEmptyPriors(t *testing.T) {
	pctx := testPipelineContext("case-1")
	for _, s := range Stages() {
		req := s.Build(pctx, domain.StageOutputs{})
		if req.System == "" {
			t.Errorf("stage %q built an empty system prompt", s.ID)
		}
		if !strings.Contains(req.System, "JSON object") {
			t.Errorf("stage %q system prompt does not demand a JSON object", s.ID)
		}
		// Synthesis works from stage outputs, not the raw transcript.
		if s.ID != StageSynthesis && !strings.Contains(req.User, "m1 | ") {
			t.Errorf("stage %q user prompt is missing the transcript:\n%s", s.ID, req.User)
		}
	}
}

func TestBuilders_EmbedDeclaredPriorsOnly(t *testing.T) {
	pctx := testPipelineContext("case-1")
	priors := domain.StageOutputs{
		StageConversationMapping: json.RawMessage(`{"summary":"mapped the dispute"}`),
		StageAgreementChecks:     json.RawMessage(`{"violations":[]}`),
	}

	req := stages[1].Build(pctx, priors) // claims verification
	if !strings.Contains(req.User, "### "+StageConversationMapping) {
		t.Errorf("claims verification prompt is missing its declared prior:\n%s", req.User)
	}
	if !strings.Contains(req.User, "mapped the dispute") {
		t.Error("prior output body was not embedded")
	}
	if strings.Contains(req.User, "### "+StageAgreementChecks) {
		t.Error("claims verification embedded a prior it does not declare")
	}
}

func TestBuilders_MissingPriorRendersAsAbsent(t *testing.T) {
	pctx := testPipelineContext("case-1")

	// Issue detection declares two priors; give it only one.
	priors := domain.StageOutputs{
		StageConversationMapping: json.RawMessage(`{"summary":"mapped"}`),
	}
	req := stages[3].Build(pctx, priors)
	if !strings.Contains(req.User, "### "+StageConversationMapping) {
		t.Error("present prior was not embedded")
	}
	if strings.Contains(req.User, "### "+StageIssueLinking) {
		t.Error("absent prior rendered a section header")
	}
}

func TestBuilders_GuidanceSection(t *testing.T) {
	pctx := testPipelineContext("case-1")

	req := stages[0].Build(pctx, nil)
	if strings.Contains(req.User, "## Operator guidance") {
		t.Error("guidance section rendered without guidance")
	}

	pctx.Guidance = "focus on the rent dispute"
	req = stages[0].Build(pctx, nil)
	if !strings.Contains(req.User, "## Operator guidance") || !strings.Contains(req.User, pctx.Guidance) {
		t.Errorf("guidance section missing:\n%s", req.User)
	}
}

// ============================================================================
// Output Validator Tests
// ============================================================================

func TestValidators_AcceptMinimalValidPayloads(t *testing.T) {
	valid := map[string]string{
		StageConversationMapping: `{"summary":"s","overallTone":"neutral","topics":[]}`,
		StageClaimsVerification:  `{"claims":[]}`,
		StageIssueLinking:        `{"issueActions":[]}`,
		StageIssueDetection:      `{"issueActions":[]}`,
		StageAgreementChecks:     `{"violations":[]}`,
		StageParticipantAnalysis: `{"profiles":[]}`,
		StageMessageAnnotation:   `{"annotations":[]}`,
		StageSynthesis:           `{"conversationState":{"status":"open"},"topicCategories":[]}`,
	}

	for _, s := range Stages() {
		payload, ok := valid[s.ID]
		if !ok {
			t.Fatalf("no sample payload for stage %q", s.ID)
		}
		if err := s.Validate(json.RawMessage(payload)); err != nil {
			t.Errorf("stage %q rejected a valid payload: %v", s.ID, err)
		}
	}
}

func TestValidators_RejectNonObject(t *testing.T) {
	for _, s := range Stages() {
		err := s.Validate(json.RawMessage(`"not an object"`))
		if err == nil {
			t.Errorf("stage %q accepted a non-object payload", s.ID)
			continue
		}
		perr, ok := domain.AsPipelineError(err)
		if !ok || perr.Type != domain.ErrorTypeParse {
			t.Errorf("stage %q non-object error = %v, want a parse error", s.ID, err)
		}
	}
}

func TestValidators_RejectMissingRequiredField(t *testing.T) {
	for _, s := range Stages() {
		err := s.Validate(json.RawMessage(`{}`))
		if err == nil {
			t.Errorf("stage %q accepted an empty object", s.ID)
			continue
		}
		perr, ok := domain.AsPipelineError(err)
		if !ok || perr.Code != domain.ErrorCodeMissingField {
			t.Errorf("stage %q empty-object error = %v, want code %s", s.ID, err, domain.ErrorCodeMissingField)
		}
	}
}

func TestValidators_RejectWrongFieldShape(t *testing.T) {
	err := validateConversationMapping(json.RawMessage(`{"summary":"s","overallTone":"t","topics":"not a list"}`))
	if err == nil {
		t.Fatal("accepted topics of the wrong type")
	}
	perr, ok := domain.AsPipelineError(err)
	if !ok || perr.Type != domain.ErrorTypeParse || perr.Code != domain.ErrorCodeMalformedOutput {
		t.Errorf("wrong-shape error = %v, want parse/%s", err, domain.ErrorCodeMalformedOutput)
	}
}
