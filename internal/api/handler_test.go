package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nlquery/nlquery/internal/auth"
	"github.com/nlquery/nlquery/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestRootEndpointDescribesRateLimitPolicy(t *testing.T) {
	h := NewHandler(testConfig(t, map[string]string{
		"NLQUERY_RATELIMIT_MAX":    "30",
		"NLQUERY_RATELIMIT_WINDOW": "1m",
	}), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	policy, ok := body["rate_limit"].(map[string]any)
	if !ok {
		t.Fatalf("rate_limit = %#v", body["rate_limit"])
	}
	if policy["requests_per_window"] != float64(30) || policy["window_seconds"] != float64(60) {
		t.Fatalf("rate_limit = %#v", policy)
	}
	endpoints, _ := body["endpoints"].(map[string]any)
	if _, ok := endpoints["/v1/query"]; !ok {
		t.Fatalf("endpoints = %#v", body["endpoints"])
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/console", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg := testConfig(t, map[string]string{"NLQUERY_AUTH_REQUIRED": "true"})
	validator, err := auth.NewStaticAPIKeyValidator("k1:client-1:query_reader")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Pipeline:       &fakePipeline{schema: retailSchema(t)},
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodGet, "/v1/schema", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusOK {
		t.Fatalf("auth status = %d body = %s", authResp.Code, authResp.Body.String())
	}

	historyReq := httptest.NewRequest(http.MethodGet, "/v1/history", nil)
	historyReq.Header.Set("X-API-Key", "k1")
	historyResp := httptest.NewRecorder()
	h.ServeHTTP(historyResp, historyReq)
	if historyResp.Code != http.StatusForbidden {
		t.Fatalf("history status = %d, want 403", historyResp.Code)
	}
}

func TestAuthRequiredWithoutMiddlewareFailsClosed(t *testing.T) {
	h := NewHandler(testConfig(t, map[string]string{"NLQUERY_AUTH_REQUIRED": "true"}), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckDatabasePings(t *testing.T) {
	if err := CheckDatabase(nil)(context.Background()); err == nil {
		t.Fatal("expected error for missing database")
	}
	if err := CheckDatabase(fakePinger{err: errors.New("refused")})(context.Background()); err == nil {
		t.Fatal("expected ping error")
	}
	if err := CheckDatabase(fakePinger{})(context.Background()); err != nil {
		t.Fatalf("CheckDatabase() error = %v", err)
	}
}

type fakePinger struct {
	err error
}

func (f fakePinger) PingContext(context.Context) error {
	return f.err
}

func testConfig(t *testing.T, values map[string]string) config.Config {
	t.Helper()
	if values == nil {
		values = map[string]string{}
	}
	cfg, err := config.Load("nlquery-api", mapLookup(values))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
