// Package metrics provides Prometheus metrics for the ember reward core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the reward core.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Pipeline metrics
	eventsProcessed  *prometheus.CounterVec
	eventsDuplicate  prometheus.Counter
	rewardsZeroed    *prometheus.CounterVec
	velocityCapped   prometheus.Counter
	levelUps         prometheus.Counter
	achievementsWon  prometheus.Counter
	computeLatency   prometheus.Histogram
	commitLatency    prometheus.Histogram
	commitErrors     prometheus.Counter
	pipelineFallback *prometheus.CounterVec

	// Configuration cache metrics
	cacheReloads          *prometheus.CounterVec
	cacheReloadErrors     prometheus.Counter
	cacheRowsSkipped      prometheus.Counter
	notificationsRejected prometheus.Counter
	listenerConnected     prometheus.Gauge
	listenerReconnects    prometheus.Counter

	// Queue metrics
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueueErrs prometheus.Counter

	// Worker metrics
	workerCount  prometheus.Gauge
	workerErrors prometheus.Counter

	// Tracker metrics
	trackerPairs    prometheus.Gauge
	trackerMessages prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "ember",
		subsystem:        "rewards",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsProcessed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_processed_total",
		Help:      "Interaction events committed, by kind",
	}, []string{"kind"})

	m.eventsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_duplicate_total",
		Help:      "Redelivered events resolved as already applied",
	})

	m.rewardsZeroed = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rewards_zeroed_total",
		Help:      "Rewards zeroed by an anti-gaming rule, by reason",
	}, []string{"reason"})

	m.velocityCapped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "rewards_velocity_capped_total",
		Help:      "Rewards capped by the reaction burst ceiling",
	})

	m.levelUps = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "level_ups_total",
		Help:      "Level-up crossings emitted by the pipeline",
	})

	m.achievementsWon = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "achievements_granted_total",
		Help:      "Newly qualified achievements",
	})

	m.computeLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "compute_duration_seconds",
		Help:      "Reward computation latency",
		Buckets:   m.histogramBuckets,
	})

	m.commitLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commit_duration_seconds",
		Help:      "Persistence gate commit latency",
		Buckets:   m.histogramBuckets,
	})

	m.commitErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "commit_errors_total",
		Help:      "Commits that failed for reasons other than duplication",
	})

	m.pipelineFallback = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "pipeline_fallback_total",
		Help:      "Pipeline stages degraded to safe defaults, by stage",
	}, []string{"stage"})

	m.cacheReloads = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "config",
		Name:      "reloads_total",
		Help:      "Configuration partitions reloaded, by table",
	}, []string{"table"})

	m.cacheReloadErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "config",
		Name:      "reload_errors_total",
		Help:      "Configuration reloads that failed",
	})

	m.cacheRowsSkipped = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "config",
		Name:      "rows_skipped_total",
		Help:      "Malformed configuration rows skipped during load",
	})

	m.notificationsRejected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "config",
		Name:      "notifications_rejected_total",
		Help:      "Change notifications naming a table outside the allow-list",
	})

	m.listenerConnected = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "config",
		Name:      "listener_connected",
		Help:      "1 when the notification listener is connected, 0 otherwise",
	})

	m.listenerReconnects = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "config",
		Name:      "listener_reconnects_total",
		Help:      "Notification listener reconnect attempts",
	})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "queue",
		Name:      "size",
		Help:      "Current number of queued events",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "queue",
		Name:      "capacity",
		Help:      "Configured queue capacity",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "queue",
		Name:      "utilization",
		Help:      "Queue fill ratio 0..1",
	})

	m.queueEnqueueErrs = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "queue",
		Name:      "enqueue_errors_total",
		Help:      "Enqueue attempts rejected (full or closed queue)",
	})

	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "workers",
		Name:      "count",
		Help:      "Configured worker count",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "workers",
		Name:      "errors_total",
		Help:      "Events that failed processing in a worker",
	})

	m.trackerPairs = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "antigaming",
		Name:      "tracked_pairs",
		Help:      "Actor pairs currently tracked",
	})

	m.trackerMessages = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "antigaming",
		Name:      "tracked_messages",
		Help:      "Messages currently tracked for reaction velocity",
	})
}

// GetRegistry returns the custom registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers operating on the global manager.

func RecordEventProcessed(kind string) { globalManager.eventsProcessed.WithLabelValues(kind).Inc() }
func RecordEventDuplicate()            { globalManager.eventsDuplicate.Inc() }
func RecordRewardZeroed(reason string) { globalManager.rewardsZeroed.WithLabelValues(reason).Inc() }
func RecordVelocityCapped()            { globalManager.velocityCapped.Inc() }
func RecordLevelUp()                   { globalManager.levelUps.Inc() }
func RecordAchievementsGranted(n int) {
	for i := 0; i < n; i++ {
		globalManager.achievementsWon.Inc()
	}
}
func RecordComputeLatency(seconds float64) { globalManager.computeLatency.Observe(seconds) }
func RecordCommitLatency(seconds float64)  { globalManager.commitLatency.Observe(seconds) }
func RecordCommitError()                   { globalManager.commitErrors.Inc() }
func RecordPipelineFallback(stage string) {
	globalManager.pipelineFallback.WithLabelValues(stage).Inc()
}

func RecordCacheReload(table string)  { globalManager.cacheReloads.WithLabelValues(table).Inc() }
func RecordCacheReloadError()         { globalManager.cacheReloadErrors.Inc() }
func RecordCacheRowSkipped()          { globalManager.cacheRowsSkipped.Inc() }
func RecordNotificationRejected()     { globalManager.notificationsRejected.Inc() }
func RecordListenerReconnect()        { globalManager.listenerReconnects.Inc() }
func UpdateListenerConnected(up bool) {
	if up {
		globalManager.listenerConnected.Set(1)
		return
	}
	globalManager.listenerConnected.Set(0)
}

func UpdateQueueSize(size int)              { globalManager.queueSize.Set(float64(size)) }
func UpdateQueueCapacity(capacity int)      { globalManager.queueCapacity.Set(float64(capacity)) }
func UpdateQueueUtilization(ratio float64)  { globalManager.queueUtilization.Set(ratio) }
func RecordQueueEnqueueError()              { globalManager.queueEnqueueErrs.Inc() }
func UpdateWorkerCount(count int)           { globalManager.workerCount.Set(float64(count)) }
func RecordWorkerError()                    { globalManager.workerErrors.Inc() }
func UpdateTrackedPairs(count int)          { globalManager.trackerPairs.Set(float64(count)) }
func UpdateTrackedMessages(count int)       { globalManager.trackerMessages.Set(float64(count)) }
