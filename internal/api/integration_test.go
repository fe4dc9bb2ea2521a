//go:build integration

package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nlquery/nlquery/internal/catalog"
	catalogpostgres "github.com/nlquery/nlquery/internal/catalog/postgres"
	"github.com/nlquery/nlquery/internal/dataset"
	"github.com/nlquery/nlquery/internal/history"
	historypostgres "github.com/nlquery/nlquery/internal/history/postgres"
	"github.com/nlquery/nlquery/internal/migrations"
	"github.com/nlquery/nlquery/internal/nl2sql"
	"github.com/nlquery/nlquery/internal/pipeline"
	"github.com/nlquery/nlquery/internal/query"
	querypostgres "github.com/nlquery/nlquery/internal/query/postgres"
)

func TestQueryEndpointAgainstSeededPostgres(t *testing.T) {
	dsn := scratchDatabase(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Schema and seed data go through a writable pool; queries use the
	// read-only pool the API server opens.
	admin, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = admin.Close() }()
	if _, err := migrations.NewRunner().Up(ctx, admin, 0); err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	if _, err := dataset.SeedPostgres(ctx, admin, dataset.Generate(7, 50, time.Now().UTC())); err != nil {
		t.Fatalf("SeedPostgres() error = %v", err)
	}

	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{DSN: dsn, ReadOnly: true, StatementTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("catalogpostgres.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	write := "INSERT INTO products (product_id, product_name, category, price, stock_quantity) VALUES (999999, 'x', 'y', 1, 1)"
	_, err = querypostgres.NewEngine(db, 0).Execute(ctx, query.Request{SQL: write})
	if err == nil || !strings.Contains(err.Error(), "read-only") {
		t.Fatalf("write through read-only pool error = %v", err)
	}

	engine := querypostgres.NewEngine(db, 100)

	cfg := testConfig(t, nil)
	store := historypostgres.NewStore(admin)
	service, err := pipeline.New(pipeline.Dependencies{
		Introspector: catalog.NewCachedIntrospector(catalogpostgres.NewIntrospector(db, "public", cfg.Database.ExcludeTables...), time.Minute),
		Completer:    fixedCompleter("SELECT c.city, SUM(s.total_amount) AS total FROM sales s JOIN customers c ON c.customer_id = s.customer_id GROUP BY c.city ORDER BY c.city;"),
		Gateway:      query.NewGateway(engine, 10*time.Second),
		History:      store,
	}, pipeline.Config{})
	if err != nil {
		t.Fatalf("pipeline.New() error = %v", err)
	}
	h := NewHandler(cfg, Dependencies{Pipeline: service, History: store, Readiness: CheckDatabase(db)})

	rr := postJSON(h, "/v1/query", `{"question":"show total sales by city"}`, "10.1.1.1:1")
	if rr.Code != http.StatusOK {
		t.Fatalf("query status = %d body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	results, ok := body["results"].([]any)
	if !ok || len(results) == 0 {
		t.Fatalf("results = %#v", body["results"])
	}
	first, _ := results[0].(map[string]any)
	if _, ok := first["city"]; !ok {
		t.Fatalf("first row = %#v", first)
	}

	schemaResp := getPath(h, "/v1/schema")
	if schemaResp.Code != http.StatusOK || strings.Contains(schemaResp.Body.String(), "nlquery_query_history") {
		t.Fatalf("schema status = %d body = %s", schemaResp.Code, schemaResp.Body.String())
	}

	entries, err := store.Recent(ctx, history.Filter{ClientID: "10.1.1.1"})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != history.OutcomeOK {
		t.Fatalf("history = %+v", entries)
	}
}

type fixedCompleter string

func (f fixedCompleter) Complete(context.Context, string, nl2sql.GenerationConfig) (string, error) {
	return string(f), nil
}

func getPath(h http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

// scratchDatabase creates an empty database beside NLQUERY_TEST_DB_DSN and
// returns its DSN. The database is dropped when the test ends.
func scratchDatabase(t *testing.T) string {
	t.Helper()
	adminDSN := strings.TrimSpace(os.Getenv("NLQUERY_TEST_DB_DSN"))
	if adminDSN == "" {
		t.Skip("NLQUERY_TEST_DB_DSN is not set")
	}
	parsed, err := url.Parse(adminDSN)
	if err != nil || strings.Trim(parsed.Path, "/") == "" {
		t.Fatalf("NLQUERY_TEST_DB_DSN must be a URL with a database name (err = %v)", err)
	}

	admin, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("open admin database: %v", err)
	}
	name := fmt.Sprintf("nlquery_api_%d", time.Now().UnixNano())
	if _, err := admin.Exec(`CREATE DATABASE ` + name); err != nil {
		_ = admin.Close()
		t.Fatalf("create scratch database: %v", err)
	}
	t.Cleanup(func() {
		_, _ = admin.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name)
		if _, err := admin.Exec(`DROP DATABASE IF EXISTS ` + name); err != nil {
			t.Errorf("drop scratch database: %v", err)
		}
		_ = admin.Close()
	})

	scratch := *parsed
	scratch.Path = "/" + name
	return scratch.String()
}
