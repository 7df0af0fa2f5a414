package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_ai_requests_total",
			Help: "Total number of AI gateway requests",
		},
		[]string{"provider", "operation"},
	)

	AIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aegis_ai_request_duration_seconds",
			Help:    "AI gateway request latency",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "operation"},
	)

	AIFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_ai_failures_total",
			Help: "Total number of AI gateway failures by kind",
		},
		[]string{"operation", "kind"},
	)

	AITokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_ai_tokens_total",
			Help: "Total tokens exchanged with AI providers",
		},
		[]string{"provider", "direction"},
	)

	AIFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_ai_fallbacks_total",
			Help: "Total number of requests served by the fallback provider",
		},
	)

	AnalysesDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_analyses_degraded_total",
			Help: "Total number of AI analyses accepted via the degraded extraction path",
		},
	)

	PlaybooksGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_playbooks_generated_total",
			Help: "Total number of playbooks generated",
		},
		[]string{"type", "mode"},
	)

	PlaybookGenerationPartial = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_playbook_generation_partial_total",
			Help: "Total number of playbook generations where one side failed",
		},
	)

	TimelineWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_timeline_write_failures_total",
			Help: "Total number of swallowed timeline write failures",
		},
	)

	ActivityLogWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aegis_activity_log_write_failures_total",
			Help: "Total number of swallowed activity log write failures",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"cache", "operation"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"channel", "outcome"},
	)

	// SQLite connection pool gauges, labeled by pool ("read" or "write").

	SQLitePoolOpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegis_sqlite_pool_open_connections",
			Help: "Current number of open SQLite connections",
		},
		[]string{"pool"},
	)

	SQLitePoolInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegis_sqlite_pool_in_use",
			Help: "Current number of SQLite connections in use",
		},
		[]string{"pool"},
	)

	SQLitePoolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aegis_sqlite_pool_idle",
			Help: "Current number of idle SQLite connections",
		},
		[]string{"pool"},
	)

	SQLitePoolWaitCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegis_sqlite_pool_wait_total",
			Help: "Total number of times a connection was waited for",
		},
		[]string{"pool"},
	)
)
