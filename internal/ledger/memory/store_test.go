package memory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/accordly/case-insight/internal/domain"
)

func TestMemoryStore_GetOrCreateRun(t *testing.T) {
	store := New()
	ctx := context.Background()

	run, isResume, err := store.GetOrCreateRun(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetOrCreateRun() error = %v", err)
	}
	if isResume {
		t.Error("isResume = true, want false for a fresh subject")
	}

	again, isResume, err := store.GetOrCreateRun(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetOrCreateRun() error = %v", err)
	}
	if again.ID != run.ID {
		t.Errorf("second call ID = %v, want %v", again.ID, run.ID)
	}
	if !isResume {
		t.Error("isResume = false, want true for an existing run")
	}

	if err := store.Complete(ctx, run.ID); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	fresh, isResume, err := store.GetOrCreateRun(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetOrCreateRun() error = %v", err)
	}
	if fresh.ID == run.ID {
		t.Error("expected a fresh run after completion")
	}
	if isResume {
		t.Error("isResume = true, want false after completion")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	store := New()

	const workers = 16
	ids := make(chan string, workers)
	creations := make(chan bool, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, isResume, err := store.GetOrCreateRun(context.Background(), "case-2")
			if err != nil {
				t.Errorf("GetOrCreateRun() error = %v", err)
				return
			}
			ids <- run.ID
			creations <- !isResume
		}()
	}
	wg.Wait()
	close(ids)
	close(creations)

	distinct := make(map[string]bool)
	for id := range ids {
		distinct[id] = true
	}
	created := 0
	for c := range creations {
		if c {
			created++
		}
	}

	if len(distinct) != 1 {
		t.Errorf("distinct run ids = %d, want 1", len(distinct))
	}
	if created != 1 {
		t.Errorf("creations = %d, want exactly 1", created)
	}
}

func TestMemoryStore_RecordStageOutput(t *testing.T) {
	store := New()
	ctx := context.Background()

	run, _, err := store.GetOrCreateRun(ctx, "case-3")
	if err != nil {
		t.Fatalf("GetOrCreateRun() error = %v", err)
	}

	if err := store.RecordStageOutput(ctx, run.ID, "conversation_mapping", 0, json.RawMessage(`{"summary":"a"}`)); err != nil {
		t.Fatalf("RecordStageOutput() error = %v", err)
	}
	if err := store.RecordStageOutput(ctx, run.ID, "conversation_mapping", 0, json.RawMessage(`{"summary":"b"}`)); err != nil {
		t.Fatalf("RecordStageOutput() error = %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if len(got.StageOutputs) != 1 {
		t.Fatalf("StageOutputs count = %d, want 1", len(got.StageOutputs))
	}
	if string(got.StageOutputs["conversation_mapping"]) != `{"summary":"b"}` {
		t.Errorf("output = %s, want overwrite", got.StageOutputs["conversation_mapping"])
	}

	// Mutating a returned run must not reach the store.
	got.StageOutputs["conversation_mapping"] = json.RawMessage(`{"summary":"tampered"}`)
	clean, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if string(clean.StageOutputs["conversation_mapping"]) != `{"summary":"b"}` {
		t.Error("store state changed through a returned clone")
	}

	if err := store.RecordStageOutput(ctx, "run_missing", "synthesis", 7, json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing run")
	}
}

func TestMemoryStore_FailKeepsActiveSlot(t *testing.T) {
	store := New()
	ctx := context.Background()

	run, _, err := store.GetOrCreateRun(ctx, "case-4")
	if err != nil {
		t.Fatalf("GetOrCreateRun() error = %v", err)
	}
	if err := store.Fail(ctx, run.ID, "issue_detection", "rate limited"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	resumed, isResume, err := store.GetOrCreateRun(ctx, "case-4")
	if err != nil {
		t.Fatalf("GetOrCreateRun() error = %v", err)
	}
	if resumed.ID != run.ID {
		t.Errorf("resumed ID = %v, want %v", resumed.ID, run.ID)
	}
	if !isResume {
		t.Error("isResume = false, want true for a failed run")
	}
	if resumed.FailureStage != "issue_detection" {
		t.Errorf("FailureStage = %v, want issue_detection", resumed.FailureStage)
	}
}

func TestMemoryStore_ListRunsBySubject(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, _, err := store.GetOrCreateRun(ctx, "case-5")
	if err != nil {
		t.Fatalf("GetOrCreateRun() error = %v", err)
	}
	if err := store.RecordStageOutput(ctx, first.ID, "conversation_mapping", 0, json.RawMessage(`{}`)); err != nil {
		t.Fatalf("RecordStageOutput() error = %v", err)
	}

	runs, err := store.ListRunsBySubject(ctx, "case-5")
	if err != nil {
		t.Fatalf("ListRunsBySubject() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs count = %d, want 1", len(runs))
	}
	if runs[0].StageOutputs != nil {
		t.Error("list results should not carry stage outputs")
	}

	empty, err := store.ListRunsBySubject(ctx, "case-none")
	if err != nil {
		t.Fatalf("ListRunsBySubject() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("runs for unknown subject = %d, want 0", len(empty))
	}
}

func TestMemoryStore_RecordCall(t *testing.T) {
	store := New()
	ctx := context.Background()

	call := &domain.ReasoningCall{
		ID:    "call_1",
		RunID: "run_1",
		Stage: "synthesis",
		Model: "gpt-4o",
	}
	if err := store.RecordCall(ctx, call); err != nil {
		t.Fatalf("RecordCall() error = %v", err)
	}
	if err := store.RecordCall(ctx, nil); err != nil {
		t.Fatalf("RecordCall(nil) error = %v", err)
	}

	calls := store.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls count = %d, want 1", len(calls))
	}
	if calls[0].Stage != "synthesis" {
		t.Errorf("Stage = %v, want synthesis", calls[0].Stage)
	}
	if calls[0].CreatedAt.IsZero() {
		t.Error("CreatedAt not defaulted")
	}
}
