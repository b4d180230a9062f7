package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	featureInfoLayerResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featureinfo_layer_results_total",
			Help: "Per-layer feature-info outcomes (ok, empty, error).",
		},
		[]string{"outcome"},
	)

	featureInfoBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "featureinfo_batches_total",
			Help: "Settled click batches by outcome (published, empty, stale).",
		},
		[]string{"outcome"},
	)

	featureInfoBatchSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "featureinfo_batch_duration_seconds",
			Help:    "Time from click to a published feature-info result.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Feature-info cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cacheOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_ops_total",
			Help: "Cache backend operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Cache backend operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	rulerPoints = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ruler_points_total",
			Help: "Points added with the measuring tool.",
		},
	)

	viewsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "map_views_active",
			Help: "Mounted map views.",
		},
	)

	clickEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "click_events_total",
			Help: "Click analytics events by result (queued, dropped, failed).",
		},
		[]string{"result"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_invalidations_total",
			Help: "Layer change events applied to the feature-info cache by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidatedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cache_invalidated_keys_total",
			Help: "Feature-info cache entries removed by layer change events.",
		},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Layer change consumer errors by kind.",
		},
		[]string{"kind"},
	)
)

// Init additionally registers the collectors on reg (e.g. a dedicated
// metrics registry). Safe to call more than once.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	cs := []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		featureInfoLayerResults, featureInfoBatches, featureInfoBatchSeconds,
		cacheResults, cacheOps, cacheOpSeconds, rulerPoints, viewsActive, clickEvents,
		invalidations, invalidatedKeys, kafkaConsumerErrors,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func IncFeatureInfoLayer(outcome string) {
	featureInfoLayerResults.WithLabelValues(outcome).Inc()
}

func IncFeatureInfoBatch(outcome string) {
	featureInfoBatches.WithLabelValues(outcome).Inc()
}

func ObserveFeatureInfoBatch(durationSeconds float64) {
	featureInfoBatchSeconds.Observe(durationSeconds)
}

func IncCacheHit()  { cacheResults.WithLabelValues("hit").Inc() }
func IncCacheMiss() { cacheResults.WithLabelValues("miss").Inc() }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOps.WithLabelValues(op, result).Inc()
	cacheOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncRulerPoint() { rulerPoints.Inc() }

func ViewMounted()   { viewsActive.Inc() }
func ViewUnmounted() { viewsActive.Dec() }

func IncClickEvent(result string) {
	clickEvents.WithLabelValues(result).Inc()
}

func ObserveInvalidation(op string, keys int, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidations.WithLabelValues(op, result).Inc()
	if keys > 0 {
		invalidatedKeys.Add(float64(keys))
	}
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
