package api

import (
	"net/http"
	"time"

	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/history"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/pipeline"
	"github.com/nlquery/nlquery/internal/query"
)

type voiceQueryResponse struct {
	Query         string      `json:"query"`
	SQL           string      `json:"sql"`
	Results       []query.Row `json:"results"`
	ExecutionTime float64     `json:"execution_time"`
}

// handleVoiceQuery captures a confirmed spoken question on the server host,
// answers it and reads the first results aloud.
func handleVoiceQuery(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Voice == nil || !cfg.Voice.Enabled {
		writePipelineError(r.Context(), w, nl2sql.NewError(nl2sql.KindVoiceUnavailable, "voice input is not enabled", nil))
		return
	}
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}

	start := time.Now()
	question, err := deps.Voice.Listen(r.Context())
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}

	result, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{
		Question: question,
		ClientID: clientIDFromRequest(r),
		Source:   history.SourceVoice,
	})
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	deps.Voice.Announce(r.Context(), result.Rows)

	writeJSON(w, http.StatusOK, voiceQueryResponse{
		Query:         question,
		SQL:           result.SQL,
		Results:       nonNilRows(result.Rows),
		ExecutionTime: time.Since(start).Seconds(),
	})
}
