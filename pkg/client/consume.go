package client

import "context"

// Callbacks receives run progress as it arrives. Nil callbacks are skipped.
type Callbacks struct {
	// OnProgress is called when a stage starts.
	OnProgress func(StageStartPayload)
	// OnStageComplete is called after a stage's output is persisted.
	OnStageComplete func(StageCompletePayload)
	// OnComplete is called once with the assembled result when every stage
	// succeeded.
	OnComplete func(*Result)
	// OnError is called once when the run fails. Stage is empty for
	// run-level failures.
	OnError func(*RunFailure)
}

// Consume starts a run and dispatches its events to cb until the stream
// ends. It returns nil when the run completes or the context is canceled,
// and a *RunFailure when the run fails. A stream that drops before any
// terminal event is reported as a run-level failure.
func (c *Client) Consume(ctx context.Context, req *RunRequest, cb Callbacks) error {
	stream, err := c.StartRun(ctx, req)
	if err != nil {
		return err
	}

	terminal := false
	var failure *RunFailure
	for event := range stream.Events() {
		switch event.Type {
		case EventStageStart:
			if cb.OnProgress != nil {
				cb.OnProgress(*event.StageStart)
			}
		case EventStageComplete:
			if cb.OnStageComplete != nil {
				cb.OnStageComplete(*event.StageComplete)
			}
		case EventStageError:
			terminal = true
			failure = &RunFailure{
				Stage:           event.StageError.Stage,
				Message:         event.StageError.Message,
				CompletedStages: event.StageError.CompletedStages,
			}
			if cb.OnError != nil {
				cb.OnError(failure)
			}
		case EventComplete:
			terminal = true
			if cb.OnComplete != nil {
				cb.OnComplete(event.Complete.Result)
			}
		case EventError:
			terminal = true
			failure = &RunFailure{Message: event.Err.Message}
			if cb.OnError != nil {
				cb.OnError(failure)
			}
		}
	}

	if failure != nil {
		return failure
	}
	if !terminal && ctx.Err() == nil {
		return &RunFailure{Message: "stream ended before the run finished"}
	}
	return nil
}
