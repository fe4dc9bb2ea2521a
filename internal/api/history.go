package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/nlquery/nlquery/internal/auth"
	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/history"
)

// handleHistory lists recent pipeline runs. Authenticated callers only see
// their own entries.
func handleHistory(deps Dependencies, cfg config.Config, w http.ResponseWriter, r *http.Request) {
	if deps.History == nil || !cfg.History.Enabled {
		writeError(r.Context(), w, http.StatusNotImplemented, "HISTORY_NOT_CONFIGURED", "query history is not configured", false, nil)
		return
	}

	limit := cfg.History.DefaultLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", false, map[string]any{"limit": raw})
			return
		}
		limit = parsed
	}
	if cfg.History.MaxLimit > 0 && limit > cfg.History.MaxLimit {
		limit = cfg.History.MaxLimit
	}

	filter := history.Filter{Limit: limit, ClientID: strings.TrimSpace(r.URL.Query().Get("client_id"))}
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		filter.ClientID = identity.ClientID
	}

	entries, err := deps.History.Recent(r.Context(), filter)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "HISTORY_FETCH_FAILED", "failed to load query history", true, map[string]any{"details": err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": limit})
}
