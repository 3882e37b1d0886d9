package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/accordly/case-insight/internal/domain"
	"github.com/accordly/case-insight/internal/ledger/memory"
	"github.com/accordly/case-insight/internal/reasoning"
)

// mockClient returns a canned response or error and captures the request.
type mockClient struct {
	resp  *reasoning.Response
	err   error
	req   *reasoning.Request
	block bool
}

func (m *mockClient) Complete(ctx context.Context, req *reasoning.Request) (*reasoning.Response, error) {
	m.req = req
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

func respWith(text string) *reasoning.Response {
	return &reasoning.Response{
		ID:    "cmpl-1",
		Model: "gpt-4o-mini",
		Choices: []reasoning.Choice{
			{Message: reasoning.ChatMessage{Role: "assistant", Content: text}},
		},
	}
}

const validMapping = `{"summary":"a brief summary","overallTone":"tense","topics":[{"name":"rent","sentiment":"negative","firstMessageId":"m1"}]}`

func TestExecute_BuildsRequestAndReturnsOutput(t *testing.T) {
	client := &mockClient{resp: respWith(validMapping)}
	e := NewExecutor(ExecutorConfig{
		Client:    client,
		ModelFor:  func(string) string { return "gpt-4o-mini" },
		MaxTokens: 2048,
		Logger:    testLogger(),
	})

	raw, err := e.Execute(context.Background(), "run-1", stages[0], testPipelineContext("case-1"), nil)
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if string(raw) != validMapping {
		t.Errorf("output = %s, want the raw response text", raw)
	}

	req := client.req
	if req == nil {
		t.Fatal("no request reached the client")
	}
	if req.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", req.Model)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v, want a system and a user message", req.Messages)
	}
	if !strings.Contains(req.Messages[1].Content, "the rent was late again") {
		t.Error("user prompt does not carry the transcript")
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
		t.Errorf("responseFormat = %+v, want json_object", req.ResponseFormat)
	}
	if req.MaxTokens != 2048 {
		t.Errorf("maxTokens = %d, want 2048", req.MaxTokens)
	}
	if req.Metadata["run_id"] != "run-1" || req.Metadata["stage"] != stages[0].ID {
		t.Errorf("metadata = %v, want run and stage tags", req.Metadata)
	}
}

func TestExecute_RejectsMalformedOutput(t *testing.T) {
	client := &mockClient{resp: respWith(`{"wrong":"shape"}`)}
	e := NewExecutor(ExecutorConfig{Client: client, Logger: testLogger()})

	_, err := e.Execute(context.Background(), "run-1", stages[0], testPipelineContext("case-1"), nil)
	perr, ok := domain.AsPipelineError(err)
	if !ok {
		t.Fatalf("error = %v, want a pipeline error", err)
	}
	if perr.Type != domain.ErrorTypeParse || perr.Code != domain.ErrorCodeMissingField {
		t.Errorf("error = %+v, want parse/%s", perr, domain.ErrorCodeMissingField)
	}
	if perr.Stage != stages[0].ID {
		t.Errorf("error stage = %q, want %q", perr.Stage, stages[0].ID)
	}
}

func TestExecute_RateLimitKeepsCode(t *testing.T) {
	apiErr := &reasoning.APIError{Message: "slow down", Code: "rate_limit_exceeded"}
	client := &mockClient{err: apiErr.ToPipeline(http.StatusTooManyRequests)}
	e := NewExecutor(ExecutorConfig{Client: client, Logger: testLogger()})

	_, err := e.Execute(context.Background(), "run-1", stages[0], testPipelineContext("case-1"), nil)
	perr, ok := domain.AsPipelineError(err)
	if !ok {
		t.Fatalf("error = %v, want a pipeline error", err)
	}
	if !perr.RateLimited() {
		t.Errorf("error = %+v, want it reported as rate limited", perr)
	}
	if perr.Code != domain.ErrorCodeRateLimitExceeded || perr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("code/status = %s/%d, want %s/429", perr.Code, perr.StatusCode, domain.ErrorCodeRateLimitExceeded)
	}
	if perr.Stage != stages[0].ID {
		t.Errorf("error stage = %q, want %q", perr.Stage, stages[0].ID)
	}
}

func TestExecute_TimeoutReportedAsUpstreamTimeout(t *testing.T) {
	client := &mockClient{block: true}
	e := NewExecutor(ExecutorConfig{
		Client:      client,
		CallTimeout: 20 * time.Millisecond,
		Logger:      testLogger(),
	})

	_, err := e.Execute(context.Background(), "run-1", stages[0], testPipelineContext("case-1"), nil)
	perr, ok := domain.AsPipelineError(err)
	if !ok {
		t.Fatalf("error = %v, want a pipeline error", err)
	}
	if perr.Type != domain.ErrorTypeUpstreamService || perr.Code != domain.ErrorCodeUpstreamTimeout {
		t.Errorf("error = %+v, want upstream_service/%s", perr, domain.ErrorCodeUpstreamTimeout)
	}
	if !strings.Contains(perr.Message, "stage timeout") {
		t.Errorf("message = %q, want it to name the stage timeout", perr.Message)
	}
	if perr.Stage != stages[0].ID {
		t.Errorf("error stage = %q, want %q", perr.Stage, stages[0].ID)
	}
}

func TestExecute_TransportErrorIsUpstream(t *testing.T) {
	client := &mockClient{err: errors.New("connection refused")}
	e := NewExecutor(ExecutorConfig{Client: client, Logger: testLogger()})

	_, err := e.Execute(context.Background(), "run-1", stages[0], testPipelineContext("case-1"), nil)
	perr, ok := domain.AsPipelineError(err)
	if !ok {
		t.Fatalf("error = %v, want a pipeline error", err)
	}
	if perr.Type != domain.ErrorTypeUpstreamService {
		t.Errorf("error type = %s, want upstream_service", perr.Type)
	}
	if !strings.HasPrefix(perr.Message, "reasoning call failed") {
		t.Errorf("message = %q, want the transport failure prefix", perr.Message)
	}
}

func TestExecute_RecordsAuditCalls(t *testing.T) {
	store := memory.New()
	recorder := reasoning.NewRecorder(store, testLogger(), true)

	client := &mockClient{resp: respWith(validMapping)}
	e := NewExecutor(ExecutorConfig{
		Client:   client,
		ModelFor: func(string) string { return "gpt-4o-mini" },
		Recorder: recorder,
		Logger:   testLogger(),
	})

	if _, err := e.Execute(context.Background(), "run-1", stages[0], testPipelineContext("case-1"), nil); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}

	client.err = (&reasoning.APIError{Message: "slow down", Code: "rate_limit_exceeded"}).ToPipeline(http.StatusTooManyRequests)
	client.resp = nil
	if _, err := e.Execute(context.Background(), "run-1", stages[1], testPipelineContext("case-1"), nil); err == nil {
		t.Fatal("expected the rate-limited call to fail")
	}

	calls := store.Calls()
	if len(calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(calls))
	}

	success := calls[0]
	if success.RunID != "run-1" || success.Stage != stages[0].ID || success.Model != "gpt-4o-mini" {
		t.Errorf("success call = %+v, want run/stage/model filled in", success)
	}
	if success.StatusCode != http.StatusOK || success.Error != "" {
		t.Errorf("success call status/error = %d/%q, want 200 and no error", success.StatusCode, success.Error)
	}
	if success.ResponseBytes != len(validMapping) || success.RequestBytes == 0 {
		t.Errorf("success call sizes = %d/%d, want prompt and response bytes", success.RequestBytes, success.ResponseBytes)
	}
	if !strings.HasPrefix(success.ID, "call_") || success.CreatedAt.IsZero() {
		t.Errorf("success call id/createdAt = %q/%v, want a generated id and timestamp", success.ID, success.CreatedAt)
	}

	failed := calls[1]
	if failed.Stage != stages[1].ID || failed.StatusCode != http.StatusTooManyRequests {
		t.Errorf("failed call = %+v, want the rate-limited stage and status", failed)
	}
	if failed.Error == "" || failed.ResponseBytes != 0 {
		t.Errorf("failed call error/bytes = %q/%d, want an error and no response bytes", failed.Error, failed.ResponseBytes)
	}
}
