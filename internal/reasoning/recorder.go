package reasoning

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/accordly/case-insight/internal/domain"
)

// Recorder persists an audit record per reasoning call when recording is
// enabled. Recording failures are logged and never fail the calling stage.
type Recorder struct {
	store   domain.CallRecorder
	logger  *slog.Logger
	enabled bool
}

// NewRecorder creates a recorder. A nil store disables recording regardless
// of the enabled flag.
func NewRecorder(store domain.CallRecorder, logger *slog.Logger, enabled bool) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		logger:  logger,
		enabled: enabled && store != nil,
	}
}

// Record persists one call record. Persistence is decoupled from the stage
// lifecycle so a canceled run context cannot lose the audit row.
func (r *Recorder) Record(ctx context.Context, call *domain.ReasoningCall) {
	if r == nil || !r.enabled || call == nil {
		return
	}

	if call.ID == "" {
		call.ID = "call_" + uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.store.RecordCall(persistCtx, call); err != nil {
		r.logger.Warn("failed to record reasoning call",
			slog.String("call_id", call.ID),
			slog.String("run_id", call.RunID),
			slog.String("stage", call.Stage),
			slog.String("error", err.Error()),
		)
	}
}
