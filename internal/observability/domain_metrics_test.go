package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestObservePipelineOutcomeCountsByLabel(t *testing.T) {
	before := gatheredValue(t, "nlquery_pipeline_requests_total", "outcome", "denied_operation")
	ObservePipelineOutcome("denied_operation")
	if after := gatheredValue(t, "nlquery_pipeline_requests_total", "outcome", "denied_operation"); after-before != 1 {
		t.Fatalf("counter delta = %v, want 1", after-before)
	}

	beforeUnknown := gatheredValue(t, "nlquery_pipeline_requests_total", "outcome", "unknown")
	ObservePipelineOutcome("")
	if gatheredValue(t, "nlquery_pipeline_requests_total", "outcome", "unknown")-beforeUnknown != 1 {
		t.Fatal("expected empty outcome to count as unknown")
	}
}

func TestRateLimitMetrics(t *testing.T) {
	before := gatheredValue(t, "nlquery_rate_limited_total", "", "")
	IncrementRateLimited()
	if gatheredValue(t, "nlquery_rate_limited_total", "", "")-before != 1 {
		t.Fatal("expected rate limited counter to increase")
	}

	SetRateLimitTrackedKeys(-3)
	if got := gatheredValue(t, "nlquery_rate_limit_tracked_keys", "", ""); got != 0 {
		t.Fatalf("tracked keys = %v, want 0", got)
	}
	SetRateLimitTrackedKeys(12)
	if got := gatheredValue(t, "nlquery_rate_limit_tracked_keys", "", ""); got != 12 {
		t.Fatalf("tracked keys = %v, want 12", got)
	}
}

func TestObserveStageDurationDoesNotPanic(t *testing.T) {
	ObserveStageDuration("completion", 250*time.Millisecond)
	IncrementDeniedStatement()
}

// gatheredValue reads a counter or gauge sample from the default registry.
// An empty label name matches the unlabeled sample.
func gatheredValue(t *testing.T, name, labelName, labelValue string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelName != "" {
				matched := false
				for _, label := range metric.GetLabel() {
					if label.GetName() == labelName && label.GetValue() == labelValue {
						matched = true
					}
				}
				if !matched {
					continue
				}
			}
			if counter := metric.GetCounter(); counter != nil {
				return counter.GetValue()
			}
			if gauge := metric.GetGauge(); gauge != nil {
				return gauge.GetValue()
			}
		}
	}
	return 0
}
