// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// チェッカーや同期エンジンから利用する。
type MetricsCollector interface {
	RecordCheckSuccess(identityID string)
	RecordCheckFailure(identityID string, reason string)
	RecordFeedFetchFailure(kind string)
	RecordEnrichmentFailure()
	RecordNotificationDelivered()
	RecordCheckLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkSuccess      prometheus.Counter
	checkFail         *prometheus.CounterVec
	feedFetchFail     *prometheus.CounterVec
	enrichmentFail    prometheus.Counter
	notificationsSent prometheus.Counter
	checkLatency      prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classwatch_check_success_total",
			Help: "identityチェック成功の合計数",
		}),
		checkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classwatch_check_fail_total",
			Help: "identityチェック失敗の合計数（失敗分類別）",
		}, []string{"reason"}),
		feedFetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "classwatch_feed_fetch_fail_total",
			Help: "フィード取得失敗の合計数（フィード種別別）",
		}, []string{"kind"}),
		enrichmentFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classwatch_enrichment_fail_total",
			Help: "詳細ページ取得（エンリッチ）失敗の合計数",
		}),
		notificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "classwatch_notifications_sent_total",
			Help: "配送された通知メッセージの合計数",
		}),
		checkLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "classwatch_check_latency_seconds",
			Help:    "identityチェック1回のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.checkSuccess,
		c.checkFail,
		c.feedFetchFail,
		c.enrichmentFail,
		c.notificationsSent,
		c.checkLatency,
	)

	return c
}

// RecordCheckSuccess はチェック成功を記録する。
func (c *Collector) RecordCheckSuccess(identityID string) {
	c.checkSuccess.Inc()
}

// RecordCheckFailure はチェック失敗を失敗分類付きで記録する。
func (c *Collector) RecordCheckFailure(identityID string, reason string) {
	c.checkFail.WithLabelValues(reason).Inc()
}

// RecordFeedFetchFailure はフィード取得失敗をフィード種別付きで記録する。
func (c *Collector) RecordFeedFetchFailure(kind string) {
	c.feedFetchFail.WithLabelValues(kind).Inc()
}

// RecordEnrichmentFailure はエンリッチ失敗を記録する。
func (c *Collector) RecordEnrichmentFailure() {
	c.enrichmentFail.Inc()
}

// RecordNotificationDelivered は通知配送を記録する。
func (c *Collector) RecordNotificationDelivered() {
	c.notificationsSent.Inc()
}

// RecordCheckLatency はチェック1回のレイテンシを記録する。
func (c *Collector) RecordCheckLatency(duration time.Duration) {
	c.checkLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
