package server

import (
	"encoding/json"
	"net/http"

	"github.com/accordly/case-insight/internal/domain"
)

// errorBody is the standardized error object returned on non-streaming
// failures. Streamed failures travel as stage_error/error events instead.
type errorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}

// errorResponse wraps the error body.
type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps err onto the pipeline error taxonomy and writes it as a
// JSON error response. The error is also attached to the request log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	perr, ok := domain.AsPipelineError(err)
	if !ok {
		perr = domain.NewPipelineError(domain.ErrorTypeInternal, err.Error())
	}

	AddError(r.Context(), perr)
	writeJSON(w, perr.HTTPStatusCode(), errorResponse{
		Error: errorBody{
			Type:    string(perr.Type),
			Code:    string(perr.Code),
			Message: perr.Message,
			Stage:   perr.Stage,
		},
	})
}
