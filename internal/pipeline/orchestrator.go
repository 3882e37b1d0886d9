package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/accordly/case-insight/internal/domain"
)

// largeTranscriptTokens is the footprint above which a starting run logs a
// warning. Stage prompts embed the full transcript, so runs past this size
// risk the reasoning model's context window.
const largeTranscriptTokens = 100_000

// EventSink receives pipeline events in emission order. Sink write failures
// never stop a run; the orchestrator logs them and keeps executing.
type EventSink interface {
	Emit(event *domain.PipelineEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(event *domain.PipelineEvent) error

// Emit implements EventSink.
func (f SinkFunc) Emit(event *domain.PipelineEvent) error {
	return f(event)
}

// StageRunner executes one stage attempt. *Executor is the production
// implementation.
type StageRunner interface {
	Execute(ctx context.Context, runID string, stage Stage, pctx *domain.PipelineContext, priors domain.StageOutputs) (json.RawMessage, error)
}

var _ StageRunner = (*Executor)(nil)

// RunOptions carries the optional resume parameters of a run request.
type RunOptions struct {
	// ResumeFromStage forces execution to restart at the given stage id,
	// overriding the first-missing-output derivation. An unknown id rejects
	// the request before any event is emitted.
	ResumeFromStage string

	// PriorOutputs are caller-supplied stage outputs merged over the
	// ledger's persisted seed. Entries for unknown stage ids are ignored.
	PriorOutputs domain.StageOutputs
}

// Orchestrator drives one analysis run through the stage registry in order,
// fail-fast: a stage failure marks the run failed and nothing after it
// executes. All persistence goes through the ledger; all caller-visible
// progress goes through the event sink.
type Orchestrator struct {
	ledger domain.RunLedger
	runner StageRunner
	logger *slog.Logger
	tracer trace.Tracer
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(ledger domain.RunLedger, runner StageRunner, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger: ledger,
		runner: runner,
		logger: logger,
		tracer: otel.Tracer("pipeline"),
	}
}

// Run executes or resumes the analysis run for pctx's subject and emits its
// event sequence to sink.
//
// Failures before the first event (an unknown resume stage, a ledger failure
// creating the run) are returned without emitting anything, so a server can
// still answer with a plain HTTP error. Once events flow, every failure ends
// the stream with a stage_error or error event; the error is also returned
// for the caller's log. A completed run ends with exactly one complete event
// and a nil return.
func (o *Orchestrator) Run(ctx context.Context, pctx *domain.PipelineContext, opts RunOptions, sink EventSink) error {
	resumeIdx := -1
	if opts.ResumeFromStage != "" {
		idx, ok := IndexOf(opts.ResumeFromStage)
		if !ok {
			return domain.ErrValidation("unknown stage: " + opts.ResumeFromStage).
				WithCode(domain.ErrorCodeUnknownStage)
		}
		resumeIdx = idx
	}

	run, isResume, err := o.ledger.GetOrCreateRun(ctx, pctx.SubjectID)
	if err != nil {
		return err
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", run.ID),
		attribute.String("run.subject_id", pctx.SubjectID),
		attribute.Bool("run.resume", isResume),
		attribute.Int("run.transcript_tokens", pctx.TranscriptTokens),
	))
	defer span.End()

	outputs := run.StageOutputs.Clone()
	if outputs == nil {
		outputs = domain.StageOutputs{}
	}
	for id, raw := range opts.PriorOutputs {
		if _, ok := IndexOf(id); ok {
			outputs[id] = raw
		}
	}

	start := 0
	switch {
	case resumeIdx >= 0:
		start = resumeIdx
	case isResume:
		start = firstMissingStage(outputs)
	}

	logger := o.logger.With("run_id", run.ID, "subject_id", pctx.SubjectID)
	logger.InfoContext(ctx, "analysis run starting",
		"resume", isResume,
		"start_stage", start,
		"total_stages", TotalStages(),
		"transcript_tokens", pctx.TranscriptTokens,
	)
	if pctx.TranscriptTokens > largeTranscriptTokens {
		logger.WarnContext(ctx, "transcript is unusually large; stage calls may hit the model context limit",
			"transcript_tokens", pctx.TranscriptTokens)
	}

	// Stages before the start index that already have outputs count as
	// completed in a later stage_error payload.
	var completed []string
	for i := 0; i < start && i < len(stages); i++ {
		if _, ok := outputs[stages[i].ID]; ok {
			completed = append(completed, stages[i].ID)
		}
	}

	total := TotalStages()
	for i := start; i < total; i++ {
		stage := stages[i]

		o.emit(ctx, sink, &domain.PipelineEvent{
			Type: domain.EventTypeStageStart,
			StageStart: &domain.StageStartPayload{
				Stage:       stage.ID,
				StageName:   stage.Name,
				StageNumber: i + 1,
				TotalStages: total,
			},
		})

		stageCtx, stageSpan := o.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
			attribute.String("stage.id", stage.ID),
			attribute.Int("stage.ordinal", i),
		))

		if err := o.ledger.SetCurrentStage(stageCtx, run.ID, stage.ID); err != nil {
			return o.abortStage(ctx, sink, run.ID, stage, completed, stageSpan, err)
		}

		stageStart := time.Now()
		raw, err := o.runner.Execute(stageCtx, run.ID, stage, pctx, priorsFor(i, outputs))
		if err != nil {
			return o.abortStage(ctx, sink, run.ID, stage, completed, stageSpan, err)
		}

		if err := o.ledger.RecordStageOutput(stageCtx, run.ID, stage.ID, i, raw); err != nil {
			return o.abortStage(ctx, sink, run.ID, stage, completed, stageSpan, err)
		}

		elapsed := time.Since(stageStart)
		stageSpan.SetAttributes(attribute.Int64("stage.duration_ms", elapsed.Milliseconds()))
		stageSpan.End()

		outputs[stage.ID] = raw
		completed = append(completed, stage.ID)

		o.emit(ctx, sink, &domain.PipelineEvent{
			Type: domain.EventTypeStageComplete,
			StageComplete: &domain.StageCompletePayload{
				Stage:      stage.ID,
				DurationMs: elapsed.Milliseconds(),
			},
		})
	}

	result := AssembleResult(outputs)

	if err := o.ledger.Complete(ctx, run.ID); err != nil {
		// The outputs are all persisted; the next request for this subject
		// resumes past every stage and completes the run then.
		logger.ErrorContext(ctx, "failed to mark run completed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		o.emit(ctx, sink, &domain.PipelineEvent{
			Type: domain.EventTypeError,
			Err:  &domain.ErrorPayload{Message: err.Error()},
		})
		return err
	}

	o.emit(ctx, sink, &domain.PipelineEvent{
		Type:     domain.EventTypeComplete,
		Complete: &domain.CompletePayload{Result: result},
	})

	logger.InfoContext(ctx, "analysis run completed", "stages_executed", total-start)
	return nil
}

// abortStage marks the run failed at stage and ends the stream with a
// stage_error event. The event's completedStages lists every stage with a
// persisted output, in execution order, including ones from prior attempts.
func (o *Orchestrator) abortStage(ctx context.Context, sink EventSink, runID string, stage Stage, completed []string, stageSpan trace.Span, cause error) error {
	perr, ok := domain.AsPipelineError(cause)
	if !ok {
		perr = domain.ErrPersistence(cause.Error())
	}
	if perr.Stage == "" {
		perr.WithStage(stage.ID)
	}

	stageSpan.SetStatus(codes.Error, perr.Error())
	stageSpan.End()
	trace.SpanFromContext(ctx).SetStatus(codes.Error, perr.Error())

	if err := o.ledger.Fail(ctx, runID, stage.ID, perr.Error()); err != nil {
		o.logger.WarnContext(ctx, "failed to mark run failed",
			"run_id", runID, "stage", stage.ID, "error", err)
	}

	o.emit(ctx, sink, &domain.PipelineEvent{
		Type: domain.EventTypeStageError,
		StageError: &domain.StageErrorPayload{
			Stage:           stage.ID,
			Message:         perr.Error(),
			CompletedStages: append(make([]string, 0, len(completed)), completed...),
		},
	})

	o.logger.ErrorContext(ctx, "analysis run failed",
		"run_id", runID,
		"stage", stage.ID,
		"completed_stages", len(completed),
		"error", perr.Error(),
	)
	return perr
}

func (o *Orchestrator) emit(ctx context.Context, sink EventSink, event *domain.PipelineEvent) {
	if sink == nil {
		return
	}
	if err := sink.Emit(event); err != nil {
		o.logger.WarnContext(ctx, "event sink write failed",
			"event", string(event.Type), "error", err)
	}
}

// priorsFor returns the outputs of stages ordered before ordinal i. Later or
// unknown entries never reach a stage builder, even when a caller supplied
// them as a resume seed.
func priorsFor(i int, outputs domain.StageOutputs) domain.StageOutputs {
	priors := make(domain.StageOutputs, i)
	for id, raw := range outputs {
		if idx, ok := IndexOf(id); ok && idx < i {
			priors[id] = raw
		}
	}
	return priors
}

// firstMissingStage returns the ordinal of the first stage with no persisted
// output, or TotalStages when every stage already has one. The latter happens
// when a prior attempt executed everything but failed to mark the run
// completed; the resume skips straight to assembly.
func firstMissingStage(outputs domain.StageOutputs) int {
	for i, s := range stages {
		if _, ok := outputs[s.ID]; !ok {
			return i
		}
	}
	return len(stages)
}
