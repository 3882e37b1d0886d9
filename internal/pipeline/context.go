package pipeline

import (
	"github.com/accordly/case-insight/internal/domain"
)

// TranscriptCounter estimates the token footprint of a transcript.
// *tokens.Registry satisfies it.
type TranscriptCounter interface {
	CountTranscript(model string, messages []domain.Message) (tokens int, estimated bool)
}

// BuildContext assembles the immutable snapshot a run executes against. It
// copies the input slices so later mutation by the caller cannot reach a
// running pipeline.
//
// The single validation rule lives here: a transcript with zero messages is
// rejected with ErrorTypeValidation and nothing else is checked. Missing
// participants, agreements, or tracked issues are ordinary inputs the stages
// handle as absent sections.
func BuildContext(inputs domain.ContextInputs, counter TranscriptCounter, model string) (*domain.PipelineContext, error) {
	if len(inputs.Messages) == 0 {
		return nil, domain.ErrValidation("transcript has no messages").
			WithCode(domain.ErrorCodeEmptyTranscript)
	}

	pctx := &domain.PipelineContext{
		SubjectID:     inputs.SubjectID,
		Messages:      append([]domain.Message(nil), inputs.Messages...),
		Participants:  append([]domain.Participant(nil), inputs.Participants...),
		Agreements:    append([]domain.Agreement(nil), inputs.Agreements...),
		TrackedIssues: append([]domain.TrackedIssue(nil), inputs.TrackedIssues...),
		Guidance:      inputs.Guidance,
	}

	if counter != nil {
		pctx.TranscriptTokens, pctx.TokensEstimated = counter.CountTranscript(model, pctx.Messages)
	}

	return pctx, nil
}
