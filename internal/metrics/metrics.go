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
// ミドルウェア、サービス層、クリーンアップジョブから利用する。
type MetricsCollector interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
	RecordModuleOperation(op string)
	RecordNoteOperation(op string)
	RecordUpload(kind string, size int64)
	RecordAuthEvent(event string)
	RecordOrphansRemoved(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpRequests   *prometheus.CounterVec
	httpLatency    *prometheus.HistogramVec
	moduleOps      *prometheus.CounterVec
	noteOps        *prometheus.CounterVec
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	authEvents     *prometheus.CounterVec
	orphansRemoved prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notemodules_http_requests_total",
			Help: "HTTPリクエスト数（メソッド、ルート、ステータスコード別）",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "notemodules_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		moduleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notemodules_module_operations_total",
			Help: "モジュール操作の成功数",
		}, []string{"op"}),
		noteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notemodules_note_operations_total",
			Help: "ノート操作の成功数",
		}, []string{"op"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notemodules_uploads_total",
			Help: "アップロードされたファイル数（種別別）",
		}, []string{"kind"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notemodules_upload_bytes_total",
			Help: "アップロードされたファイルの合計バイト数",
		}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notemodules_auth_events_total",
			Help: "登録・ログインの結果別件数",
		}, []string{"event"}),
		orphansRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notemodules_orphan_uploads_removed_total",
			Help: "参照されなくなったアップロードファイルの削除数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.moduleOps,
		c.noteOps,
		c.uploads,
		c.uploadBytes,
		c.authEvents,
		c.orphansRemoved,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストの件数と処理時間を記録する。
// routeにはURLではなくルートパターンを渡すこと（ラベルの種類数を抑えるため）。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordModuleOperation はモジュール操作を記録する。
func (c *Collector) RecordModuleOperation(op string) {
	c.moduleOps.WithLabelValues(op).Inc()
}

// RecordNoteOperation はノート操作を記録する。
func (c *Collector) RecordNoteOperation(op string) {
	c.noteOps.WithLabelValues(op).Inc()
}

// RecordUpload はアップロードを記録する。
func (c *Collector) RecordUpload(kind string, size int64) {
	c.uploads.WithLabelValues(kind).Inc()
	if size > 0 {
		c.uploadBytes.Add(float64(size))
	}
}

// RecordAuthEvent は認証イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordOrphansRemoved は削除した孤立ファイル数を記録する。
func (c *Collector) RecordOrphansRemoved(count int) {
	c.orphansRemoved.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop は何も記録しないMetricsCollector。メトリクスを使わないテストやCLIで使う。
type Nop struct{}

func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordModuleOperation(string)                         {}
func (Nop) RecordNoteOperation(string)                           {}
func (Nop) RecordUpload(string, int64)                           {}
func (Nop) RecordAuthEvent(string)                               {}
func (Nop) RecordOrphansRemoved(int)                             {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
