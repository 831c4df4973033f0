package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.IncRecommendation("pause", true)
	m.IncRecommendation("pause", false)
	m.IncRecommendation("pause", false)
	if got := testutil.ToFloat64(m.recommendations.WithLabelValues("pause", "deduplicated")); got != 2 {
		t.Fatalf("deduplicated: want=2 got=%v", got)
	}

	m.IncGenerationJob("alternative", "succeeded", "")
	if got := testutil.ToFloat64(m.generationJobs.WithLabelValues("alternative", "succeeded", "none")); got != 1 {
		t.Fatalf("generation jobs: want=1 got=%v", got)
	}

	m.ObserveAPI("POST", "/analytics/block-events", 200, 10*time.Millisecond)
	if got := testutil.ToFloat64(m.apiRequests.WithLabelValues("POST", "/analytics/block-events", "200")); got != 1 {
		t.Fatalf("api requests: want=1 got=%v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncEventIngested()
	m.IncAttempt(true)
	m.ObserveLLMRequest("x", "ok", time.Second)
	ObserveLLMCall("x", errors.New("boom"), time.Second)
}
