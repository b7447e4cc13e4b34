package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() == name {
			var sum float64
			for _, m := range mf.GetMetric() {
				sum += m.GetCounter().GetValue()
			}
			return sum
		}
	}
	t.Fatalf("%s metric not found", name)
	return 0
}

// TestRecordCycle_IncrementsCounterWithLabels はサイクルカウンタがラベル付きで増加することを検証する。
func TestRecordCycle_IncrementsCounterWithLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCycle("market_hours", "success")
	c.RecordCycle("market_hours", "success")
	c.RecordCycle("manual", "failure")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "marketbrief_cycles_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
		}
	}
	if !found {
		t.Error("marketbrief_cycles_total metric not found")
	}
	if got := counterValue(t, reg, "marketbrief_cycles_total"); got != 3 {
		t.Errorf("cycles_total = %v, want 3", got)
	}
}

// TestRecordFetchOutcome_SplitsByResult はフェッチ結果カウンタが成否で分かれることを検証する。
func TestRecordFetchOutcome_SplitsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordFetchOutcome("timestamp", true)
	c.RecordFetchOutcome("cursor", true)
	c.RecordFetchOutcome("none", false)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range metrics {
		if mf.GetName() != "marketbrief_fetch_outcomes_total" {
			continue
		}
		if len(mf.GetMetric()) != 3 {
			t.Fatalf("expected 3 label combinations, got %d", len(mf.GetMetric()))
		}
		return
	}
	t.Error("marketbrief_fetch_outcomes_total metric not found")
}

// TestRecordPostCounts はフェッチ・選択の投稿数カウンタが加算されることを検証する。
func TestRecordPostCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPostsFetched(10)
	c.RecordPostsFetched(5)
	c.RecordPostsSelected(8)

	if got := counterValue(t, reg, "marketbrief_posts_fetched_total"); got != 15 {
		t.Errorf("posts_fetched_total = %v, want 15", got)
	}
	if got := counterValue(t, reg, "marketbrief_posts_selected_total"); got != 8 {
		t.Errorf("posts_selected_total = %v, want 8", got)
	}
}

// TestRecordSummarizerLatency_ObservesHistogram はレイテンシヒストグラムに値が記録されることを検証する。
func TestRecordSummarizerLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSummarizerLatency(2 * time.Second)
	c.RecordSummarizerLatency(30 * time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "marketbrief_summarizer_latency_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は2 + 30 = 32秒
			if h.GetSampleSum() < 31.9 || h.GetSampleSum() > 32.1 {
				t.Errorf("sample_sum = %v, want ~32", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("marketbrief_summarizer_latency_seconds metric not found")
	}
}

// TestRecordSummarizerFailure_IncrementsCounter は失敗カウンタが増加することを検証する。
func TestRecordSummarizerFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordSummarizerFailure()
	c.RecordSummarizerFailure()

	if got := counterValue(t, reg, "marketbrief_summarizer_fail_total"); got != 2 {
		t.Errorf("summarizer_fail_total = %v, want 2", got)
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordCycle("manual", "success")
	c.RecordFetchOutcome("timestamp", true)
	c.RecordPostsFetched(3)
	c.RecordPostsSelected(3)
	c.RecordSummarizerLatency(500 * time.Millisecond)

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"marketbrief_cycles_total",
		"marketbrief_fetch_outcomes_total",
		"marketbrief_posts_fetched_total",
		"marketbrief_posts_selected_total",
		"marketbrief_summarizer_latency_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordPostsFetched(1)
	c2.RecordPostsFetched(2)

	if got := counterValue(t, reg1, "marketbrief_posts_fetched_total"); got != 1 {
		t.Errorf("reg1 posts_fetched = %v, want 1", got)
	}
	if got := counterValue(t, reg2, "marketbrief_posts_fetched_total"); got != 2 {
		t.Errorf("reg2 posts_fetched = %v, want 2", got)
	}
}
