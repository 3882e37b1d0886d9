// Package sse serializes pipeline events onto a server-sent-event stream.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/accordly/case-insight/internal/domain"
)

// Writer writes discrete pipeline events to an HTTP response stream. Every
// event is flushed as soon as it is written so the caller observes progress
// in near-real time rather than at stream close.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for event streaming and returns the writer. It fails
// when the ResponseWriter cannot flush, since an unflushable stream would
// buffer the whole run.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent writes one event as an independently parseable message: an
// event line, a data line with the JSON payload, and a blank-line terminator.
func (sw *Writer) WriteEvent(event *domain.PipelineEvent) error {
	payload := event.Payload()
	if payload == nil {
		payload = struct{}{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}
