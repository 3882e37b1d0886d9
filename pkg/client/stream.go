package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// RunStream is a live event stream for one analysis run.
type RunStream struct {
	events chan Event
	body   io.ReadCloser
	logger *slog.Logger
}

// Events returns the stream's event channel. The channel is closed after a
// terminal event, when the context passed to StartRun is canceled, or when
// the connection drops. Cancellation closes the channel without emitting an
// error event.
func (rs *RunStream) Events() <-chan Event {
	return rs.events
}

// StartRun starts a streaming analysis run. A non-2xx response is returned
// as an error before any stream exists; otherwise the caller owns the
// returned stream and must drain Events until it closes.
func (c *Client) StartRun(ctx context.Context, req *RunRequest) (*RunStream, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/runs/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, parseAPIError(resp.StatusCode, body)
	}

	rs := &RunStream{
		events: make(chan Event),
		body:   resp.Body,
		logger: c.logger,
	}
	go rs.read(ctx)
	return rs, nil
}

// read decodes frames off the wire until a terminal event, cancellation, or
// a broken connection. Bytes accumulate in a buffer and only complete
// blank-line-delimited frames are decoded, so events come out the same no
// matter how the network chunks the stream; a trailing partial frame stays
// buffered until the rest arrives.
func (rs *RunStream) read(ctx context.Context) {
	defer close(rs.events)
	defer rs.body.Close()

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := rs.body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				frame := buf[:idx]
				buf = buf[idx+2:]

				event, ok := rs.decodeFrame(frame)
				if !ok {
					continue
				}
				if !rs.deliver(ctx, event) {
					return
				}
				if event.Terminal() {
					return
				}
			}
		}
		if err != nil {
			// Cancellation surfaces as a read error; stay silent for it.
			if err != io.EOF && ctx.Err() == nil {
				rs.deliver(ctx, Event{
					Type: EventError,
					Err:  &ErrorPayload{Message: fmt.Sprintf("stream connection lost: %v", err)},
				})
			}
			return
		}
	}
}

func (rs *RunStream) deliver(ctx context.Context, event Event) bool {
	select {
	case rs.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// decodeFrame parses one "event:"/"data:" frame. Malformed frames are
// logged and skipped rather than failing the stream.
func (rs *RunStream) decodeFrame(frame []byte) (Event, bool) {
	var eventType, data string
	for _, line := range strings.Split(string(frame), "\n") {
		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if eventType == "" || data == "" {
		rs.logger.Warn("skipping malformed stream frame", "frame", string(frame))
		return Event{}, false
	}

	event := Event{Type: eventType}
	var payload any
	switch eventType {
	case EventStageStart:
		event.StageStart = &StageStartPayload{}
		payload = event.StageStart
	case EventStageComplete:
		event.StageComplete = &StageCompletePayload{}
		payload = event.StageComplete
	case EventStageError:
		event.StageError = &StageErrorPayload{}
		payload = event.StageError
	case EventComplete:
		event.Complete = &CompletePayload{}
		payload = event.Complete
	case EventError:
		event.Err = &ErrorPayload{}
		payload = event.Err
	default:
		rs.logger.Warn("skipping unknown stream event", "type", eventType)
		return Event{}, false
	}
	if err := json.Unmarshal([]byte(data), payload); err != nil {
		rs.logger.Warn("skipping undecodable stream event", "type", eventType, "error", err)
		return Event{}, false
	}
	return event, true
}
