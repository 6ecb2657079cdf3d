package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boletin_feed_loads_total",
			Help: "Sheet loads by outcome",
		},
		[]string{"status"},
	)

	FeedLoadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boletin_feed_load_duration_seconds",
			Help:    "Time spent fetching and parsing the sheet",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)

	RecordsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boletin_records_loaded",
			Help: "Records in the current snapshot",
		},
	)

	RowsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boletin_rows_dropped_total",
			Help: "Sheet rows dropped for lacking a student ID",
		},
	)

	SnapshotAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boletin_snapshot_loaded_timestamp_seconds",
			Help: "Unix time of the last confirmed load",
		},
	)

	Lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boletin_lookups_total",
			Help: "Student lookups by result",
		},
		[]string{"result"},
	)

	StatisticsDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boletin_statistics_duration_seconds",
			Help:    "Time spent aggregating statistics",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boletin_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boletin_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	AdminSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boletin_admin_sessions",
			Help: "Open administrator sessions",
		},
	)

	WebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boletin_websocket_clients",
			Help: "Connected live-update clients",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			FeedLoads,
			FeedLoadDuration,
			RecordsLoaded,
			RowsDropped,
			SnapshotAge,
			Lookups,
			StatisticsDuration,
			CacheHits,
			CacheMisses,
			AdminSessions,
			WebSocketClients,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
