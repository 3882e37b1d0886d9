package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/accordly/case-insight/internal/domain"
	"github.com/accordly/case-insight/internal/pipeline"
	"github.com/accordly/case-insight/internal/sse"
)

// RunRequest is the body of POST /v1/runs/stream: the context inputs plus
// optional resume parameters.
type RunRequest struct {
	domain.ContextInputs
	ResumeFromStage string              `json:"resumeFromStage,omitempty"`
	PriorOutputs    domain.StageOutputs `json:"priorOutputs,omitempty"`
}

// RunsConfig wires the run routes.
type RunsConfig struct {
	Orchestrator *pipeline.Orchestrator
	Ledger       domain.RunLedger
	Counter      pipeline.TranscriptCounter

	// DefaultModel resolves the model used for transcript token estimation.
	// A func so configuration reloads reach in-flight handlers.
	DefaultModel func() string

	// RequestTimeout bounds the non-streaming routes. The stream route is
	// exempt: it stays open for the lifetime of the pipeline.
	RequestTimeout time.Duration

	// RunsPerMinute caps run creation per client. Zero disables the limit.
	RunsPerMinute int
}

// RunsHandler serves the analysis run routes.
type RunsHandler struct {
	orchestrator   *pipeline.Orchestrator
	ledger         domain.RunLedger
	counter        pipeline.TranscriptCounter
	model          func() string
	requestTimeout time.Duration
	limiter        *RateLimiter
	runLimit       RateLimitRule
	started        time.Time
}

func NewRunsHandler(cfg RunsConfig) *RunsHandler {
	model := cfg.DefaultModel
	if model == nil {
		model = func() string { return "" }
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RunsHandler{
		orchestrator:   cfg.Orchestrator,
		ledger:         cfg.Ledger,
		counter:        cfg.Counter,
		model:          model,
		requestTimeout: timeout,
		limiter:        NewRateLimiter(nil),
		runLimit:       PerMinuteRule(cfg.RunsPerMinute),
		started:        time.Now(),
	}
}

// Routes mounts the run routes on r.
func (h *RunsHandler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(TimeoutMiddleware(h.requestTimeout))
		r.Get("/v1/runs", h.handleListRuns)
		r.Get("/v1/runs/{runID}", h.handleGetRun)
	})

	// Run creation streams events for the lifetime of the pipeline, so it
	// is exempt from the request timeout and rate limited instead.
	r.Group(func(r chi.Router) {
		if h.runLimit.Rate > 0 {
			r.Use(RateLimitMiddleware(h.limiter, h.runLimit))
		}
		r.Post("/v1/runs/stream", h.handleStreamRun)
	})
}

// handleStreamRun starts or resumes an analysis run and streams its events.
// Validation failures answer with a plain JSON error before the stream opens;
// once the first event is written, all failures travel on the stream.
func (h *RunsHandler) handleStreamRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, domain.ErrValidation("invalid request body: "+err.Error()))
		return
	}

	if strings.TrimSpace(req.SubjectID) == "" {
		writeError(w, r, domain.ErrValidation("subjectId is required").
			WithCode(domain.ErrorCodeMissingField))
		return
	}

	pctx, err := pipeline.BuildContext(req.ContextInputs, h.counter, h.model())
	if err != nil {
		writeError(w, r, err)
		return
	}

	AddLogField(r.Context(), "subject_id", pctx.SubjectID)

	if _, ok := w.(http.Flusher); !ok {
		writeError(w, r, domain.NewPipelineError(domain.ErrorTypeInternal,
			"response writer does not support streaming"))
		return
	}

	// Open the stream lazily on the first event so failures before any
	// event, like an unknown resume stage, still get a plain HTTP error.
	var stream *sse.Writer
	sink := pipeline.SinkFunc(func(event *domain.PipelineEvent) error {
		if stream == nil {
			var serr error
			if stream, serr = sse.NewWriter(w); serr != nil {
				return serr
			}
		}
		return stream.WriteEvent(event)
	})

	opts := pipeline.RunOptions{
		ResumeFromStage: req.ResumeFromStage,
		PriorOutputs:    req.PriorOutputs,
	}
	if err := h.orchestrator.Run(r.Context(), pctx, opts, sink); err != nil {
		if stream == nil {
			writeError(w, r, err)
			return
		}
		// The failure already reached the caller as a stage_error or error
		// event; keep a copy in the request log.
		AddError(r.Context(), err)
	}
}

func (h *RunsHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.ledger.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(run))
}

func (h *RunsHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subjectId")
	if subjectID == "" {
		writeError(w, r, domain.ErrValidation("subjectId query parameter is required").
			WithCode(domain.ErrorCodeMissingField))
		return
	}

	runs, err := h.ledger.ListRunsBySubject(r.Context(), subjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

func (h *RunsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Uptime: time.Since(h.started).Round(time.Second).String(),
	})
}

// runResponse augments a persisted run with registry-derived progress so
// clients don't need the stage order to interpret it.
type runResponse struct {
	*domain.AnalysisRun
	CompletedStages []string `json:"completedStages"`
	TotalStages     int      `json:"totalStages"`
}

func newRunResponse(run *domain.AnalysisRun) runResponse {
	completed := make([]string, 0, len(run.StageOutputs))
	for _, stage := range pipeline.Stages() {
		if _, ok := run.StageOutputs[stage.ID]; ok {
			completed = append(completed, stage.ID)
		}
	}
	return runResponse{
		AnalysisRun:     run,
		CompletedStages: completed,
		TotalStages:     pipeline.TotalStages(),
	}
}

// Listings stay light: ledgers do not load stage outputs for them, so the
// per-run progress fields only appear on the single-run response.
type listRunsResponse struct {
	Runs []*domain.AnalysisRun `json:"runs"`
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}
