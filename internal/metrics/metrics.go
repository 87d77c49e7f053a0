// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン開始の結果ラベル。
const (
	BeginOutcomeRedirected = "redirected"
	BeginOutcomeStoreError = "store_error"
)

// EndOutcomeSuccess はログイン完了の成功ラベル。
// 失敗時はmodel.ErrorKindの名前をラベルに使う。
const EndOutcomeSuccess = "success"

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドシェイクとクリーンアップワーカーから利用する。
type MetricsCollector interface {
	RecordBeginLogin(outcome string)
	RecordEndLogin(outcome string)
	RecordProviderLatency(endpoint string, duration time.Duration)
	RecordExpiredPurged(target string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	beginLogin      *prometheus.CounterVec
	endLogin        *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	expiredPurged   *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		beginLogin: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthgate_begin_login_total",
			Help: "ログイン開始の結果別の合計数",
		}, []string{"outcome"}),
		endLogin: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthgate_end_login_total",
			Help: "ログイン完了の結果別の合計数",
		}, []string{"outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oauthgate_provider_request_duration_seconds",
			Help:    "IdPへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		expiredPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauthgate_expired_purged_total",
			Help: "クリーンアップで削除された期限切れレコードの合計数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.beginLogin,
		c.endLogin,
		c.providerLatency,
		c.expiredPurged,
	)

	return c
}

// RecordBeginLogin はログイン開始の結果を記録する。
func (c *Collector) RecordBeginLogin(outcome string) {
	c.beginLogin.WithLabelValues(outcome).Inc()
}

// RecordEndLogin はログイン完了の結果を記録する。
func (c *Collector) RecordEndLogin(outcome string) {
	c.endLogin.WithLabelValues(outcome).Inc()
}

// RecordProviderLatency はIdPへのリクエストのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(endpoint string, duration time.Duration) {
	c.providerLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordExpiredPurged は削除された期限切れレコード数を記録する。
func (c *Collector) RecordExpiredPurged(target string, count int64) {
	c.expiredPurged.WithLabelValues(target).Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
// メトリクスを使わないテストや構成で使用する。
type NopCollector struct{}

func (NopCollector) RecordBeginLogin(string)                     {}
func (NopCollector) RecordEndLogin(string)                       {}
func (NopCollector) RecordProviderLatency(string, time.Duration) {}
func (NopCollector) RecordExpiredPurged(string, int64)           {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

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
