package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DatasetLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cadastre_dataset_loads_total",
		Help: "Dataset load outcomes (ok, cached, failed)",
	}, []string{"result"})
	FetchAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cadastre_fetch_attempts_total",
		Help: "Candidate source attempts by source kind and result",
	}, []string{"source", "result"})
	FetchCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cadastre_fetch_cache_hits_total",
		Help: "Dataset bodies served from the redis fetch cache",
	})
	QueryDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cadastre_query_duration_ms",
		Help:    "Engine query duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"query"})
	BulkCriteriaTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cadastre_bulk_criteria_total",
		Help: "Bulk search criteria by result (ok, failed)",
	}, []string{"result"})
	ShapeDisabledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cadastre_shape_capability_disabled_total",
		Help: "Sessions whose shape capability was disabled after a failure",
	})
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cadastre_sessions_active",
		Help: "Live browsing sessions",
	})
)

func init() {
	prometheus.MustRegister(DatasetLoadsTotal)
	prometheus.MustRegister(FetchAttemptsTotal)
	prometheus.MustRegister(FetchCacheHitsTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(BulkCriteriaTotal)
	prometheus.MustRegister(ShapeDisabledTotal)
	prometheus.MustRegister(SessionsActive)
}

// Handler：暴露已注册指标，供 Prometheus 抓取
func Handler() http.Handler { return promhttp.Handler() }
