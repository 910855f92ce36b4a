// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 画像プロキシの結果ラベル。
const (
	OutcomeServed        = "served"
	OutcomeMissingURL    = "missing_url"
	OutcomeRejected      = "rejected"
	OutcomeUpstreamError = "upstream_error"
	OutcomeTooLarge      = "too_large"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 画像プロキシとデータ取得オーケストレーターから利用する。
type MetricsCollector interface {
	RecordProxyResult(outcome string)
	RecordHTTPStatus(statusCode int)
	RecordUpstreamLatency(duration time.Duration)
	RecordBytesServed(n int64)
	ObserveOperation(name, kind, outcome string, d time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	proxyResults    *prometheus.CounterVec
	httpStatus      *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	bytesServed     prometheus.Counter
	operations      *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		proxyResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeshare_image_proxy_requests_total",
			Help: "画像プロキシへのリクエスト数（結果別）",
		}, []string{"outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recipeshare_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recipeshare_image_proxy_upstream_latency_seconds",
			Help:    "画像取得元へのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		bytesServed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recipeshare_image_proxy_bytes_total",
			Help: "画像プロキシが返したバイト数の合計",
		}),
		operations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recipeshare_operation_duration_seconds",
			Help:    "ゲートウェイ操作の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "kind", "outcome"}),
	}

	reg.MustRegister(
		c.proxyResults,
		c.httpStatus,
		c.upstreamLatency,
		c.bytesServed,
		c.operations,
	)

	return c
}

// RecordProxyResult は画像プロキシの結果を記録する。
func (c *Collector) RecordProxyResult(outcome string) {
	c.proxyResults.WithLabelValues(outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordUpstreamLatency は取得元へのリクエストのレイテンシを記録する。
func (c *Collector) RecordUpstreamLatency(duration time.Duration) {
	c.upstreamLatency.Observe(duration.Seconds())
}

// RecordBytesServed は返却したバイト数を加算する。
func (c *Collector) RecordBytesServed(n int64) {
	c.bytesServed.Add(float64(n))
}

// ObserveOperation はオーケストレーター経由の操作結果を記録する。
func (c *Collector) ObserveOperation(name, kind, outcome string, d time.Duration) {
	c.operations.WithLabelValues(name, kind, outcome).Observe(d.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
