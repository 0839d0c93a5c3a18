// Package observability holds the Prometheus series emitted by the pipeline.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_results_total",
			Help: "Result cache lookups by outcome (hit, miss, coalesced).",
		},
		[]string{"cache", "outcome"},
	)

	cacheEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "result_cache_evictions_total",
			Help: "Entries evicted because the cache reached capacity.",
		},
		[]string{"cache"},
	)

	cacheProducerSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "result_cache_producer_seconds",
			Help:    "Producer (fetch) latency behind the result cache.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"cache", "status"},
	)

	fetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boundary_fetch_total",
			Help: "Boundary payload fetches by outcome.",
		},
		[]string{"outcome"},
	)

	fetchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "boundary_fetch_seconds",
			Help:    "Boundary payload fetch latency.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	lodBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lod_builds_total",
			Help: "LOD ladder builds by outcome (ok, degraded).",
		},
		[]string{"outcome"},
	)

	lodCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lod_cache_results_total",
			Help: "LOD bucket cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	joinKeyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "joinkey_adoptions_total",
			Help: "Join key resolution decisions.",
		},
		[]string{"decision"},
	)

	classificationWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classification_warnings_total",
			Help: "Non-fatal classification fallbacks by kind.",
		},
		[]string{"kind"},
	)

	sharedTierOps = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shared_tier_op_seconds",
			Help:    "Latency of shared (Redis) payload tier operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "status"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidations_total",
			Help: "Boundary release invalidation events by outcome.",
		},
		[]string{"outcome"},
	)

	invalidationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invalidation_process_seconds",
			Help:    "Processing time of one invalidation message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	invalidationLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "invalidation_lag_seconds",
			Help: "Approximate lag: now - message timestamp.",
		},
	)
)

func all() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds,
		cacheResults, cacheEvictions, cacheProducerSeconds,
		fetchTotal, fetchSeconds,
		lodBuilds, lodCacheResults,
		joinKeyDecisions, classificationWarnings,
		invalidations, invalidationSeconds, invalidationLag,
		sharedTierOps,
	}
}

func init() {
	registerAll(prometheus.DefaultRegisterer)
	prometheus.MustRegister(buildInfo)
}

// Init additionally registers every series on reg (usually a private
// registry owned by metrics.Provider, which exports its own build info).
// It is safe to call more than once.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	registerAll(reg)
}

func registerAll(reg prometheus.Registerer) {
	for _, c := range all() {
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

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}

func IncCacheHit(cache string)       { cacheResults.WithLabelValues(cache, "hit").Inc() }
func IncCacheMiss(cache string)      { cacheResults.WithLabelValues(cache, "miss").Inc() }
func IncCacheCoalesced(cache string) { cacheResults.WithLabelValues(cache, "coalesced").Inc() }
func IncCacheEviction(cache string)  { cacheEvictions.WithLabelValues(cache).Inc() }

func ObserveProducer(cache string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cacheProducerSeconds.WithLabelValues(cache, status).Observe(seconds)
}

func ObserveFetch(outcome string, seconds float64) {
	fetchTotal.WithLabelValues(outcome).Inc()
	fetchSeconds.Observe(seconds)
}

func IncLODBuild(degraded bool) {
	if degraded {
		lodBuilds.WithLabelValues("degraded").Inc()
		return
	}
	lodBuilds.WithLabelValues("ok").Inc()
}

func IncLODCache(hit bool) {
	if hit {
		lodCacheResults.WithLabelValues("hit").Inc()
		return
	}
	lodCacheResults.WithLabelValues("miss").Inc()
}

func IncJoinKeyDecision(decision string) { joinKeyDecisions.WithLabelValues(decision).Inc() }

func IncClassificationWarning(kind string) { classificationWarnings.WithLabelValues(kind).Inc() }

func IncInvalidation(outcome string) { invalidations.WithLabelValues(outcome).Inc() }

func ObserveInvalidation(op, outcome string, seconds float64) {
	if op == "" {
		op = "unknown"
	}
	invalidations.WithLabelValues(outcome).Inc()
	invalidationSeconds.WithLabelValues(op).Observe(seconds)
}

func SetInvalidationLag(seconds float64) { invalidationLag.Set(seconds) }

func ObserveSharedTierOp(op string, err error, seconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sharedTierOps.WithLabelValues(op, status).Observe(seconds)
}
