package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/accordly/case-insight/internal/domain"
	"github.com/accordly/case-insight/internal/reasoning"
)

const defaultCallTimeout = 2 * time.Minute

// CompletionClient is the single reasoning-service operation the executor
// depends on. *reasoning.Client satisfies it.
type CompletionClient interface {
	Complete(ctx context.Context, req *reasoning.Request) (*reasoning.Response, error)
}

var _ CompletionClient = (*reasoning.Client)(nil)

// ExecutorConfig configures a stage executor.
type ExecutorConfig struct {
	// Client is the reasoning-service client. Required.
	Client CompletionClient

	// ModelFor resolves the model for a stage id. ReasoningConfig.ModelFor
	// satisfies it and honors per-stage overrides.
	ModelFor func(stageID string) string

	// MaxTokens caps the completion size per call; 0 leaves it to the service.
	MaxTokens int

	// CallTimeout bounds one reasoning call. An exceeded timeout surfaces as
	// ErrorTypeUpstreamService with the timeout code. Defaults to 2 minutes.
	CallTimeout time.Duration

	// Recorder persists per-call audit records; nil disables recording.
	Recorder *reasoning.Recorder

	Logger *slog.Logger
}

// Executor runs one stage attempt: build the request, make exactly one
// reasoning call, validate the output. It never persists anything; the
// orchestrator owns the ledger.
type Executor struct {
	client      CompletionClient
	modelFor    func(string) string
	maxTokens   int
	callTimeout time.Duration
	recorder    *reasoning.Recorder
	logger      *slog.Logger
}

// NewExecutor creates an executor from configuration.
func NewExecutor(cfg ExecutorConfig) *Executor {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		client:      cfg.Client,
		modelFor:    cfg.ModelFor,
		maxTokens:   cfg.MaxTokens,
		callTimeout: timeout,
		recorder:    cfg.Recorder,
		logger:      logger,
	}
}

// Execute runs one attempt of stage against the reasoning service and returns
// the validated raw output. priors must hold only outputs of earlier stages;
// the builder selects the subset the stage declares.
//
// Failures map onto the error taxonomy: transport errors, timeouts, and
// non-2xx responses are ErrorTypeUpstreamService (a 429 keeps its rate-limit
// code but is not retried); a response that does not satisfy the stage's
// shape is ErrorTypeParse. One service call happens per attempt regardless.
func (e *Executor) Execute(ctx context.Context, runID string, stage Stage, pctx *domain.PipelineContext, priors domain.StageOutputs) (json.RawMessage, error) {
	sreq := stage.Build(pctx, priors)

	model := ""
	if e.modelFor != nil {
		model = e.modelFor(stage.ID)
	}

	req := &reasoning.Request{
		Model: model,
		Messages: []reasoning.ChatMessage{
			{Role: "system", Content: sreq.System},
			{Role: "user", Content: sreq.User},
		},
		MaxTokens:      e.maxTokens,
		ResponseFormat: &reasoning.ResponseFormat{Type: "json_object"},
		Metadata: map[string]string{
			"run_id": runID,
			"stage":  stage.ID,
		},
	}

	// Audit sizes are prompt and completion payload bytes, not wire frames.
	reqBytes := len(sreq.System) + len(sreq.User)

	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Complete(callCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		perr := e.normalizeCallError(ctx, err, stage.ID)
		e.record(ctx, runID, stage.ID, model, reqBytes, 0, elapsed, perr)
		e.logger.WarnContext(ctx, "stage call failed",
			"run_id", runID,
			"stage", stage.ID,
			"model", model,
			"duration_ms", elapsed.Milliseconds(),
			"rate_limited", perr.RateLimited(),
			"error", perr.Error(),
		)
		return nil, perr
	}

	raw := json.RawMessage(resp.Text())

	if err := stage.Validate(raw); err != nil {
		perr, ok := domain.AsPipelineError(err)
		if !ok {
			perr = domain.ErrParse(err.Error())
		}
		perr.WithStage(stage.ID)
		e.record(ctx, runID, stage.ID, model, reqBytes, len(raw), elapsed, perr)
		e.logger.WarnContext(ctx, "stage output rejected",
			"run_id", runID,
			"stage", stage.ID,
			"model", model,
			"response_bytes", len(raw),
			"error", perr.Error(),
		)
		return nil, perr
	}

	e.record(ctx, runID, stage.ID, model, reqBytes, len(raw), elapsed, nil)
	e.logger.DebugContext(ctx, "stage call completed",
		"run_id", runID,
		"stage", stage.ID,
		"model", model,
		"duration_ms", elapsed.Milliseconds(),
		"request_bytes", reqBytes,
		"response_bytes", len(raw),
	)

	return raw, nil
}

// normalizeCallError maps a client error onto the taxonomy with the stage
// attached. A deadline that fired while the parent context is still live is
// the per-call timeout; a deadline inherited from the parent is reported as a
// plain upstream failure.
func (e *Executor) normalizeCallError(parent context.Context, err error, stageID string) *domain.PipelineError {
	if perr, ok := domain.AsPipelineError(err); ok {
		if perr.Stage == "" {
			perr.WithStage(stageID)
		}
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return domain.ErrUpstreamTimeout(fmt.Sprintf("reasoning call exceeded the %s stage timeout", e.callTimeout)).
			WithStage(stageID)
	}
	return domain.ErrUpstream("reasoning call failed: " + err.Error()).WithStage(stageID)
}

func (e *Executor) record(ctx context.Context, runID, stageID, model string, reqBytes, respBytes int, elapsed time.Duration, callErr *domain.PipelineError) {
	if e.recorder == nil {
		return
	}
	call := &domain.ReasoningCall{
		ID:            "call_" + uuid.New().String(),
		RunID:         runID,
		Stage:         stageID,
		Model:         model,
		RequestBytes:  reqBytes,
		ResponseBytes: respBytes,
		DurationMs:    elapsed.Milliseconds(),
	}
	if callErr != nil {
		call.Error = callErr.Error()
		call.StatusCode = callErr.StatusCode
	} else {
		call.StatusCode = http.StatusOK
	}
	e.recorder.Record(ctx, call)
}
