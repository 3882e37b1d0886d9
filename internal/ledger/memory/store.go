// Package memory is an in-memory run ledger for tests and ephemeral use.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/accordly/case-insight/internal/domain"
)

// Store keeps runs, stage outputs, and call records in process memory.
// The mutex stands in for the SQL store's unique index: all writes for a
// subject serialize through it.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*domain.AnalysisRun
	active map[string]string // subject id -> non-completed run id
	calls  []*domain.ReasoningCall
}

var _ domain.RunLedger = (*Store)(nil)
var _ domain.CallRecorder = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		runs:   make(map[string]*domain.AnalysisRun),
		active: make(map[string]string),
	}
}

func (s *Store) GetOrCreateRun(ctx context.Context, subjectID string) (*domain.AnalysisRun, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[subjectID]; ok {
		return cloneRun(s.runs[id]), true, nil
	}

	run := &domain.AnalysisRun{
		ID:           "run_" + uuid.New().String(),
		SubjectID:    subjectID,
		Status:       domain.RunStatusPending,
		StageOutputs: domain.StageOutputs{},
		CreatedAt:    time.Now().UTC(),
	}
	s.runs[run.ID] = run
	s.active[subjectID] = run.ID

	return cloneRun(run), false, nil
}

func (s *Store) SetCurrentStage(ctx context.Context, runID, stageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return domain.ErrNotFound(fmt.Sprintf("run %s not found", runID))
	}

	run.Status = domain.RunStatusRunning
	run.CurrentStage = stageID
	run.FailureStage = ""
	run.FailureReason = ""
	return nil
}

func (s *Store) RecordStageOutput(ctx context.Context, runID, stageID string, ordinal int, output json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return domain.ErrNotFound(fmt.Sprintf("run %s not found", runID))
	}

	if run.StageOutputs == nil {
		run.StageOutputs = domain.StageOutputs{}
	}
	run.StageOutputs[stageID] = append(json.RawMessage(nil), output...)
	return nil
}

func (s *Store) Complete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return domain.ErrNotFound(fmt.Sprintf("run %s not found", runID))
	}

	now := time.Now().UTC()
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &now
	delete(s.active, run.SubjectID)
	return nil
}

func (s *Store) Fail(ctx context.Context, runID, stageID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return domain.ErrNotFound(fmt.Sprintf("run %s not found", runID))
	}

	// Failed runs keep the subject's active slot so the next request resumes them.
	run.Status = domain.RunStatusFailed
	run.FailureStage = stageID
	run.FailureReason = reason
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (*domain.AnalysisRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, domain.ErrNotFound(fmt.Sprintf("run %s not found", runID))
	}

	return cloneRun(run), nil
}

func (s *Store) ListRunsBySubject(ctx context.Context, subjectID string) ([]*domain.AnalysisRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*domain.AnalysisRun
	for _, run := range s.runs {
		if run.SubjectID != subjectID {
			continue
		}
		clone := cloneRun(run)
		clone.StageOutputs = nil
		runs = append(runs, clone)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	return runs, nil
}

func (s *Store) RecordCall(ctx context.Context, call *domain.ReasoningCall) error {
	if call == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}
	s.calls = append(s.calls, call)
	return nil
}

// Calls returns the recorded reasoning calls in record order.
func (s *Store) Calls() []*domain.ReasoningCall {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]*domain.ReasoningCall(nil), s.calls...)
}

func (s *Store) Close() error {
	return nil
}

func cloneRun(run *domain.AnalysisRun) *domain.AnalysisRun {
	clone := *run
	clone.StageOutputs = run.StageOutputs.Clone()
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}
