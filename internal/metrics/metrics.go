// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// スケジューラやフェッチ層から利用する。
type Recorder interface {
	RecordCycle(trigger, status string)
	RecordFetchOutcome(strategy string, succeeded bool)
	RecordPostsFetched(count int)
	RecordPostsSelected(count int)
	RecordSummarizerLatency(duration time.Duration)
	RecordSummarizerFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycles            *prometheus.CounterVec
	fetchOutcomes     *prometheus.CounterVec
	postsFetched      prometheus.Counter
	postsSelected     prometheus.Counter
	summarizerLatency prometheus.Histogram
	summarizerFail    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketbrief_cycles_total",
			Help: "トリガー種別・結果別のサイクル実行数",
		}, []string{"trigger", "status"}),
		fetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketbrief_fetch_outcomes_total",
			Help: "戦略別・成否別のアカウントフェッチ数",
		}, []string{"strategy", "result"}),
		postsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbrief_posts_fetched_total",
			Help: "フェッチされた投稿の合計数",
		}),
		postsSelected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbrief_posts_selected_total",
			Help: "サマリー生成に選択された投稿の合計数",
		}),
		summarizerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketbrief_summarizer_latency_seconds",
			Help:    "サマリー生成のレイテンシ（秒）",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		summarizerFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketbrief_summarizer_fail_total",
			Help: "サマリー生成失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.cycles,
		c.fetchOutcomes,
		c.postsFetched,
		c.postsSelected,
		c.summarizerLatency,
		c.summarizerFail,
	)

	return c
}

// RecordCycle はサイクルの完了を記録する。
func (c *Collector) RecordCycle(trigger, status string) {
	c.cycles.WithLabelValues(trigger, status).Inc()
}

// RecordFetchOutcome はアカウントフェッチの結果を記録する。
func (c *Collector) RecordFetchOutcome(strategy string, succeeded bool) {
	result := "success"
	if !succeeded {
		result = "failure"
	}
	c.fetchOutcomes.WithLabelValues(strategy, result).Inc()
}

// RecordPostsFetched はフェッチされた投稿数を記録する。
func (c *Collector) RecordPostsFetched(count int) {
	c.postsFetched.Add(float64(count))
}

// RecordPostsSelected は選択された投稿数を記録する。
func (c *Collector) RecordPostsSelected(count int) {
	c.postsSelected.Add(float64(count))
}

// RecordSummarizerLatency はサマリー生成のレイテンシを記録する。
func (c *Collector) RecordSummarizerLatency(duration time.Duration) {
	c.summarizerLatency.Observe(duration.Seconds())
}

// RecordSummarizerFailure はサマリー生成の失敗を記録する。
func (c *Collector) RecordSummarizerFailure() {
	c.summarizerFail.Inc()
}

// Nop は何も記録しないRecorder。テストやメトリクス無効構成で使用する。
type Nop struct{}

func (Nop) RecordCycle(trigger, status string)             {}
func (Nop) RecordFetchOutcome(strategy string, ok bool)    {}
func (Nop) RecordPostsFetched(count int)                   {}
func (Nop) RecordPostsSelected(count int)                  {}
func (Nop) RecordSummarizerLatency(duration time.Duration) {}
func (Nop) RecordSummarizerFailure()                       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface checks
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
