package deployments

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestPrometheusRulesContainExpectedAlerts(t *testing.T) {
	text := readAsset(t, "nlquery_rules.yaml")

	requiredAlerts := []string{
		"NLQueryCompletionLatencyP95High",
		"NLQueryExecutionLatencyP95High",
		"NLQueryGenerationFailuresHigh",
		"NLQueryDeniedStatementsDetected",
		"NLQueryHTTP5xxRatioHigh",
		"NLQueryRateLimitingSustained",
	}
	for _, alertName := range requiredAlerts {
		if !strings.Contains(text, "alert: "+alertName) {
			t.Fatalf("rules missing alert %q", alertName)
		}
	}
}

func TestRecordingRulesReferenceExportedMetrics(t *testing.T) {
	text := readAsset(t, "nlquery_recording_rules.yaml")

	exported := []string{
		"nlquery_pipeline_stage_duration_seconds_bucket",
		"nlquery_pipeline_requests_total",
		"nlquery_denied_statements_total",
		"nlquery_rate_limited_total",
		"nlquery_http_requests_total",
	}
	for _, metricName := range exported {
		if !strings.Contains(text, metricName) {
			t.Fatalf("recording rules missing metric %q", metricName)
		}
	}

	alerts := readAsset(t, "nlquery_rules.yaml")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "- record: ") {
			continue
		}
		record := strings.TrimPrefix(line, "- record: ")
		if !strings.Contains(alerts, record) {
			t.Fatalf("recording rule %q is not used by any alert", record)
		}
	}
}

func TestPrometheusScrapeExampleContainsMetricsPathAndRules(t *testing.T) {
	text := readAsset(t, "prometheus-scrape.example.yaml")

	for _, token := range []string{
		"metrics_path: /v1/metrics",
		"nlquery_rules.yaml",
		"nlquery_recording_rules.yaml",
		"job_name: nlquery-api",
	} {
		if !strings.Contains(text, token) {
			t.Fatalf("scrape example missing %q", token)
		}
	}
}

func readAsset(t *testing.T, name string) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	path := filepath.Join(filepath.Dir(filename), "observability", "prometheus", name)
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(content)
}
