package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/observability"
)

type errorClass struct {
	status    int
	code      string
	message   string
	retryable bool
}

var errorClasses = map[nl2sql.Kind]errorClass{
	nl2sql.KindInvalidInput:      {http.StatusBadRequest, "INVALID_INPUT", "invalid question", false},
	nl2sql.KindRateLimited:       {http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later", true},
	nl2sql.KindGenerationFailure: {http.StatusBadGateway, "GENERATION_FAILED", "failed to generate SQL", true},
	nl2sql.KindExtractionFailure: {http.StatusUnprocessableEntity, "INVALID_QUERY", "model output did not contain a usable SQL statement", false},
	nl2sql.KindRepairFailure:     {http.StatusUnprocessableEntity, "INVALID_QUERY", "generated SQL could not be repaired", false},
	nl2sql.KindInvalidStatement:  {http.StatusUnprocessableEntity, "INVALID_QUERY", "generated SQL is not a valid query", false},
	nl2sql.KindDeniedOperation:   {http.StatusForbidden, "DENIED_OPERATION", "generated SQL contains a forbidden operation", false},
	nl2sql.KindExecutionFailure:  {http.StatusInternalServerError, "EXECUTION_FAILED", "query execution failed", true},
	nl2sql.KindVoiceUnavailable:  {http.StatusBadRequest, "VOICE_UNAVAILABLE", "could not process voice input", false},
}

// writePipelineError maps a pipeline failure to its HTTP status and error code.
// Unclassified errors are internal failures and do not expose their text.
func writePipelineError(ctx context.Context, w http.ResponseWriter, err error) {
	var classified *nl2sql.Error
	if !errors.As(err, &classified) {
		writeErrorDetail(ctx, w, http.StatusInternalServerError, "INTERNAL", "an unexpected error occurred", "", true, nil)
		return
	}
	class, ok := errorClasses[classified.Kind]
	if !ok {
		class = errorClass{http.StatusInternalServerError, "INTERNAL", "an unexpected error occurred", true}
	}
	writeErrorDetail(ctx, w, class.status, class.code, class.message, classified.Message, class.retryable, map[string]any{
		"kind": string(classified.Kind),
	})
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeErrorDetail(ctx, w, status, code, message, "", retryable, extra)
}

func writeErrorDetail(ctx context.Context, w http.ResponseWriter, status int, code, message, detail string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"detail":     detail,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
