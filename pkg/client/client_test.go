package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetRun(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runs/run-123" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("expected X-Api-Key header to be 'test-key', got %q", r.Header.Get("X-Api-Key"))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{
  "id": "run-123",
  "subjectId": "case-42",
  "status": "failed",
  "failureStage": "issue_linking",
  "failureReason": "upstream_service: reasoning service unavailable",
  "createdAt": "2026-08-01T10:00:00Z",
  "completedStages": ["conversation_mapping", "claims_verification"],
  "totalStages": 8
}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithAPIKey("test-key"))

	run, err := c.GetRun(context.Background(), "run-123")
	if err != nil {
		t.Fatalf("GetRun returned error: %v", err)
	}
	if run.ID != "run-123" || run.SubjectID != "case-42" {
		t.Errorf("unexpected run identity: %+v", run)
	}
	if run.Status != "failed" || run.FailureStage != "issue_linking" {
		t.Errorf("unexpected failure fields: %+v", run)
	}
	if len(run.CompletedStages) != 2 || run.TotalStages != 8 {
		t.Errorf("unexpected progress fields: %+v", run)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintln(w, `{"error":{"type":"not_found","message":"run run-nope not found"}}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)

	_, err := c.GetRun(context.Background(), "run-nope")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Type != "not_found" || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if apiErr.Error() != "not_found: run run-nope not found" {
		t.Errorf("unexpected error string: %q", apiErr.Error())
	}
}

func TestListRuns(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/runs" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("subjectId"); got != "case 42" {
			t.Errorf("subjectId query = %q, want %q", got, "case 42")
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{
  "runs": [
    {"id": "run-2", "subjectId": "case 42", "status": "completed", "createdAt": "2026-08-02T09:00:00Z"},
    {"id": "run-1", "subjectId": "case 42", "status": "failed", "createdAt": "2026-08-01T10:00:00Z"}
  ]
}`)
	}))
	defer ts.Close()

	c := NewClient(ts.URL)

	runs, err := c.ListRuns(context.Background(), "case 42")
	if err != nil {
		t.Fatalf("ListRuns returned error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" || runs[1].Status != "failed" {
		t.Errorf("unexpected runs: %+v, %+v", runs[0], runs[1])
	}
}

func TestParseAPIError_NonJSONBody(t *testing.T) {
	err := parseAPIError(http.StatusBadGateway, []byte("upstream exploded"))
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("expected a plain error for a non-JSON body, got %+v", apiErr)
	}
	want := "API error (status 502): upstream exploded"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}
