package sse

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/accordly/case-insight/internal/domain"
)

func TestWriter_WriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()

	sw, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", got)
	}

	err = sw.WriteEvent(&domain.PipelineEvent{
		Type: domain.EventTypeStageStart,
		StageStart: &domain.StageStartPayload{
			Stage:       "conversation_mapping",
			StageName:   "Conversation mapping",
			StageNumber: 1,
			TotalStages: 8,
		},
	})
	if err != nil {
		t.Fatalf("WriteEvent() error = %v", err)
	}

	want := `event: stage_start
data: {"stage":"conversation_mapping","stageName":"Conversation mapping","stageNumber":1,"totalStages":8}

`
	if got := rec.Body.String(); got != want {
		t.Errorf("wire format mismatch:\ngot  %q\nwant %q", got, want)
	}
	if !rec.Flushed {
		t.Error("event was not flushed")
	}
}

func TestWriter_EachEventIsOneFrame(t *testing.T) {
	rec := httptest.NewRecorder()

	sw, err := NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	events := []*domain.PipelineEvent{
		{Type: domain.EventTypeStageComplete, StageComplete: &domain.StageCompletePayload{Stage: "synthesis", DurationMs: 1200}},
		{Type: domain.EventTypeStageError, StageError: &domain.StageErrorPayload{Stage: "issue_detection", Message: "boom", CompletedStages: []string{"conversation_mapping"}}},
		{Type: domain.EventTypeError, Err: &domain.ErrorPayload{Message: "run aborted"}},
	}
	for _, ev := range events {
		if err := sw.WriteEvent(ev); err != nil {
			t.Fatalf("WriteEvent(%s) error = %v", ev.Type, err)
		}
	}

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(frames) != len(events) {
		t.Fatalf("frames = %d, want %d:\n%s", len(frames), len(events), body)
	}
	for i, frame := range frames {
		lines := strings.Split(frame, "\n")
		if len(lines) != 2 {
			t.Fatalf("frame %d has %d lines, want event+data: %q", i, len(lines), frame)
		}
		if !strings.HasPrefix(lines[0], "event: ") {
			t.Errorf("frame %d missing event line: %q", i, lines[0])
		}
		if !strings.HasPrefix(lines[1], "data: ") {
			t.Errorf("frame %d missing data line: %q", i, lines[1])
		}
	}
}

type noFlushWriter struct {
	http.ResponseWriter
}

func TestWriter_RequiresFlusher(t *testing.T) {
	if _, err := NewWriter(noFlushWriter{httptest.NewRecorder()}); err == nil {
		t.Error("expected error for a non-flushing ResponseWriter")
	}
}
