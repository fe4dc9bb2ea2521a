package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTraceMiddlewarePreservesIncomingTraceID(t *testing.T) {
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := TraceIDFromContext(r.Context()); got != "trace-1" {
			t.Fatalf("TraceIDFromContext() = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/query", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(traceHeader); got != "trace-1" {
		t.Fatalf("trace header = %q", got)
	}
}

func TestTraceMiddlewareReplacesUnusableTraceID(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"too long":  strings.Repeat("a", maxTraceIDSize+1),
		"injection": "abc\ndef",
		"spaces":    "trace id",
	}
	for name, incoming := range cases {
		t.Run(name, func(t *testing.T) {
			var seen string
			h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = TraceIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
			if incoming != "" {
				req.Header.Set(traceHeader, incoming)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if seen == "" || seen == incoming {
				t.Fatalf("trace id = %q, want generated", seen)
			}
			if len(seen) != 32 {
				t.Fatalf("generated trace id length = %d", len(seen))
			}
			if rr.Header().Get(traceHeader) != seen {
				t.Fatalf("header = %q, context = %q", rr.Header().Get(traceHeader), seen)
			}
		})
	}
}

func TestTraceIDContextHelpers(t *testing.T) {
	ctx := ContextWithTraceID(context.Background(), "abc123")
	if got := TraceIDFromContext(ctx); got != "abc123" {
		t.Fatalf("TraceIDFromContext() = %q", got)
	}
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Fatalf("TraceIDFromContext(empty) = %q", got)
	}
}

func TestAnnotateClientOutsideTracedRequestIsNoop(t *testing.T) {
	ctx := context.Background()
	AnnotateClient(ctx, "client-a")
	if got := clientFromContext(ctx); got != "" {
		t.Fatalf("clientFromContext() = %q", got)
	}
}

func TestLoggingMiddlewareReportsRouteAndClient(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/query", func(w http.ResponseWriter, r *http.Request) {
		AnnotateClient(r.Context(), "client-a")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	})
	h := TraceMiddleware(LoggingMiddleware(logger)(mux))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/query", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry %q: %v", buf.String(), err)
	}
	if entry["msg"] != "http_request" || entry["level"] != "INFO" {
		t.Fatalf("entry = %#v", entry)
	}
	if entry["route"] != "POST /v1/query" || entry["client_id"] != "client-a" {
		t.Fatalf("route/client = %v/%v", entry["route"], entry["client_id"])
	}
	if entry["status"] != float64(http.StatusAccepted) || entry["bytes"] != float64(2) {
		t.Fatalf("status/bytes = %v/%v", entry["status"], entry["bytes"])
	}
	if entry["trace_id"] == "" {
		t.Fatal("expected trace_id")
	}
}

func TestLoggingMiddlewareWarnsOnServerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log entry: %v", err)
	}
	if entry["level"] != "WARN" || entry["status"] != float64(http.StatusBadGateway) {
		t.Fatalf("entry = %#v", entry)
	}
	if entry["route"] != unmatchedRoute {
		t.Fatalf("route = %v", entry["route"])
	}
	if _, ok := entry["client_id"]; ok {
		t.Fatal("client_id should be omitted for anonymous requests")
	}
}

func TestMetricsMiddlewareLabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/history", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := MetricsMiddleware(mux)

	const metric = "nlquery_http_requests_total"
	beforeMatched := gatheredValue(t, metric, "route", "GET /v1/history")
	beforeUnmatched := gatheredValue(t, metric, "route", unmatchedRoute)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/history?limit=5", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/does-not-exist", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/also-missing", nil))

	if got := gatheredValue(t, metric, "route", "GET /v1/history") - beforeMatched; got != 1 {
		t.Fatalf("matched delta = %v", got)
	}
	if got := gatheredValue(t, metric, "route", unmatchedRoute) - beforeUnmatched; got != 2 {
		t.Fatalf("unmatched delta = %v", got)
	}
}
