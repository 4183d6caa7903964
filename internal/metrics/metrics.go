// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Webhookハンドラーから利用する。
type MetricsCollector interface {
	RecordWebhookReceived(provider string)
	RecordVerifyFailure(provider string, code string)
	RecordEventHandled(provider string, eventType string)
	RecordEventIgnored(provider string, eventType string)
	RecordHandlerLatency(provider string, duration time.Duration)
	RecordMetadataSyncFailure()
	RecordDuplicatePayment()
	RecordCreditsGranted(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	webhookReceived  *prometheus.CounterVec
	verifyFail       *prometheus.CounterVec
	eventHandled     *prometheus.CounterVec
	eventIgnored     *prometheus.CounterVec
	handlerLatency   *prometheus.HistogramVec
	metadataSyncFail prometheus.Counter
	duplicatePayment prometheus.Counter
	creditsGranted   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		webhookReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagisync_webhook_received_total",
			Help: "受信したWebhookリクエストの合計数（プロバイダー別）",
		}, []string{"provider"}),
		verifyFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagisync_webhook_verify_fail_total",
			Help: "署名検証失敗の合計数（プロバイダー・エラーコード別）",
		}, []string{"provider", "code"}),
		eventHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagisync_webhook_event_handled_total",
			Help: "処理したWebhookイベントの合計数（プロバイダー・イベント種別）",
		}, []string{"provider", "event_type"}),
		eventIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagisync_webhook_event_ignored_total",
			Help: "未知のイベント種別として無視したWebhookの合計数",
		}, []string{"provider", "event_type"}),
		handlerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagisync_webhook_handler_latency_seconds",
			Help:    "Webhook処理のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		metadataSyncFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagisync_clerk_metadata_sync_fail_total",
			Help: "Clerkへのメタデータ書き戻し失敗の合計数（部分成功の検出用）",
		}),
		duplicatePayment: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagisync_duplicate_payment_total",
			Help: "冪等に無視した再配送決済イベントの合計数",
		}),
		creditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagisync_credits_granted_total",
			Help: "決済イベントにより付与したクレジットの合計数",
		}),
	}

	reg.MustRegister(
		c.webhookReceived,
		c.verifyFail,
		c.eventHandled,
		c.eventIgnored,
		c.handlerLatency,
		c.metadataSyncFail,
		c.duplicatePayment,
		c.creditsGranted,
	)

	return c
}

// RecordWebhookReceived はWebhook受信を記録する。
func (c *Collector) RecordWebhookReceived(provider string) {
	c.webhookReceived.WithLabelValues(provider).Inc()
}

// RecordVerifyFailure は署名検証失敗を記録する。
func (c *Collector) RecordVerifyFailure(provider string, code string) {
	c.verifyFail.WithLabelValues(provider, code).Inc()
}

// RecordEventHandled はイベント処理成功を記録する。
func (c *Collector) RecordEventHandled(provider string, eventType string) {
	c.eventHandled.WithLabelValues(provider, eventType).Inc()
}

// RecordEventIgnored は未知イベントの無視を記録する。
func (c *Collector) RecordEventIgnored(provider string, eventType string) {
	c.eventIgnored.WithLabelValues(provider, eventType).Inc()
}

// RecordHandlerLatency はWebhook処理のレイテンシを記録する。
func (c *Collector) RecordHandlerLatency(provider string, duration time.Duration) {
	c.handlerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordMetadataSyncFailure はメタデータ書き戻し失敗（部分成功）を記録する。
func (c *Collector) RecordMetadataSyncFailure() {
	c.metadataSyncFail.Inc()
}

// RecordDuplicatePayment は再配送決済イベントの冪等な無視を記録する。
func (c *Collector) RecordDuplicatePayment() {
	c.duplicatePayment.Inc()
}

// RecordCreditsGranted は付与したクレジット数を記録する。
func (c *Collector) RecordCreditsGranted(count int) {
	c.creditsGranted.Add(float64(count))
}

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
