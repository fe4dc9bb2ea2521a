package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/nlquery/nlquery/internal/auth"
	"github.com/nlquery/nlquery/internal/catalog"
	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/history"
	"github.com/nlquery/nlquery/internal/pipeline"
	"github.com/nlquery/nlquery/internal/query"
)

const maxRequestBodyBytes = 64 << 10

type questionRequest struct {
	Question string         `json:"question"`
	Params   map[string]any `json:"params"`
}

type queryResponse struct {
	SQL           string      `json:"sql"`
	Results       []query.Row `json:"results"`
	ExecutionTime float64     `json:"execution_time"`
}

type translateResponse struct {
	SQL      string `json:"sql"`
	Repaired bool   `json:"repaired"`
}

type schemaResponse struct {
	Schema    map[string][]string    `json:"schema"`
	Tables    []catalog.TableSummary `json:"tables"`
	Timestamp string                 `json:"timestamp"`
}

func handleSchema(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	schema, err := deps.Pipeline.Schema(r.Context())
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to retrieve schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, schemaResponse{
		Schema:    catalog.Summary(schema),
		Tables:    catalog.OrderedSummary(schema),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func handleQuery(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "QUERY_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
		return
	}
	request, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	result, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{
		Question: request.Question,
		ClientID: clientIDFromRequest(r),
		Source:   history.SourceHTTP,
		Params:   request.Params,
	})
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{
		SQL:           result.SQL,
		Results:       nonNilRows(result.Rows),
		ExecutionTime: result.ExecutionTime.Seconds(),
	})
}

func handleTranslate(deps Dependencies, _ config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TRANSLATE_NOT_CONFIGURED", "query translation is not configured", false, nil)
		return
	}
	request, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	translation, err := deps.Pipeline.Translate(r.Context(), pipeline.Request{
		Question: request.Question,
		ClientID: clientIDFromRequest(r),
		Source:   history.SourceHTTP,
	})
	if err != nil {
		writePipelineError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, translateResponse{SQL: translation.SQL(), Repaired: translation.Repaired})
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (questionRequest, bool) {
	var request questionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", false, map[string]any{"details": err.Error()})
		return questionRequest{}, false
	}
	return request, true
}

func clientIDFromRequest(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.ClientID != "" {
		return identity.ClientID
	}
	return clientIP(r)
}

func nonNilRows(rows []query.Row) []query.Row {
	if rows == nil {
		return []query.Row{}
	}
	return rows
}
