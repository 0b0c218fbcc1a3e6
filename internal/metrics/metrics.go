// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 移行処理、トークン更新ジョブ、ゲートウェイから利用する。
type MetricsCollector interface {
	RecordAdminMigration(state string, attempts int)
	RecordUserMigration(outcome string)
	RecordTokenRefresh(result string)
	RecordGatewayOutcome(outcome string)
	RecordProxyLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	adminMigrations *prometheus.CounterVec
	adminAttempts   prometheus.Histogram
	userMigrations  *prometheus.CounterVec
	tokenRefresh    *prometheus.CounterVec
	gatewayOutcome  *prometheus.CounterVec
	proxyLatency    prometheus.Histogram
	httpStatus      *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		adminMigrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subbridge_admin_migrations_total",
			Help: "最終状態別の管理者移行数",
		}, []string{"state"}),
		adminAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subbridge_admin_migration_attempts",
			Help:    "管理者1件あたりの試行回数",
			Buckets: []float64{1, 2, 3},
		}),
		userMigrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subbridge_user_migrations_total",
			Help: "結果別のユーザー移行数",
		}, []string{"outcome"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subbridge_token_refresh_total",
			Help: "結果別の管理者トークン更新数",
		}, []string{"result"}),
		gatewayOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subbridge_gateway_requests_total",
			Help: "結果別の購読リクエスト数",
		}, []string{"outcome"}),
		proxyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subbridge_proxy_latency_seconds",
			Help:    "購読配信パスへの転送のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subbridge_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.adminMigrations,
		c.adminAttempts,
		c.userMigrations,
		c.tokenRefresh,
		c.gatewayOutcome,
		c.proxyLatency,
		c.httpStatus,
	)

	return c
}

// RecordAdminMigration は管理者1件の移行結果と試行回数を記録する。
func (c *Collector) RecordAdminMigration(state string, attempts int) {
	c.adminMigrations.WithLabelValues(state).Inc()
	c.adminAttempts.Observe(float64(attempts))
}

// RecordUserMigration はユーザー1件の移行結果を記録する。
func (c *Collector) RecordUserMigration(outcome string) {
	c.userMigrations.WithLabelValues(outcome).Inc()
}

// RecordTokenRefresh はトークン更新の結果を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordGatewayOutcome は購読リクエストの結果を記録する。
func (c *Collector) RecordGatewayOutcome(outcome string) {
	c.gatewayOutcome.WithLabelValues(outcome).Inc()
}

// RecordProxyLatency は転送のレイテンシを記録する。
func (c *Collector) RecordProxyLatency(duration time.Duration) {
	c.proxyLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
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
