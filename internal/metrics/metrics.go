package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service metrics on a private registry
type Collector struct {
	reg *prometheus.Registry

	HTTPRequests *prometheus.CounterVec   // method, route, status
	HTTPDuration *prometheus.HistogramVec // method, route

	ResolverLookups *prometheus.CounterVec // strategy: nested|root, result: hit|miss
	EtaComputations *prometheus.CounterVec // source: routes|fallback|cached|none
	MapsCalls       *prometheus.CounterVec // api: geocoding|routes, result: ok|error
	MapsDuration    *prometheus.HistogramVec
	GeocodeCache    *prometheus.CounterVec // result: hit|miss|shared

	PushSent        *prometheus.CounterVec // kind
	PushSkipped     *prometheus.CounterVec // reason
	PushTokensPurge prometheus.Counter

	LiveUploads     *prometheus.CounterVec // result: accepted|throttled|error
	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	CleanupPurged *prometheus.CounterVec // target: daily|receipts
}

// New creates and registers all collectors
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bustracker_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"method", "route"}),
		ResolverLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_resolver_lookups_total",
			Help: "Route stop resolutions by winning strategy.",
		}, []string{"strategy", "result"}),
		EtaComputations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_eta_computations_total",
			Help: "ETA computations by source.",
		}, []string{"source"}),
		MapsCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_maps_calls_total",
			Help: "Calls to the maps APIs.",
		}, []string{"api", "result"}),
		MapsDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bustracker_maps_call_duration_seconds",
			Help:    "Latency of maps API calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"api"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_geocode_cache_total",
			Help: "Geocode lookups by cache outcome.",
		}, []string{"result"}),
		PushSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_push_sent_total",
			Help: "Delivered push notifications by kind.",
		}, []string{"kind"}),
		PushSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_push_skipped_total",
			Help: "Students skipped during push sync by reason.",
		}, []string{"reason"}),
		PushTokensPurge: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_push_tokens_removed_total",
			Help: "Stale push tokens removed from profiles.",
		}),
		LiveUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_live_uploads_total",
			Help: "Monitor location uploads by result.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_published_total",
			Help: "Position messages published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bustracker_nats_publish_errors_total",
			Help: "NATS publish failures.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bustracker_nats_connected",
			Help: "1 when connected to NATS.",
		}),
		CleanupPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bustracker_cleanup_purged_total",
			Help: "Rows removed by the maintenance job.",
		}, []string{"target"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.HTTPRequests, c.HTTPDuration,
		c.ResolverLookups, c.EtaComputations,
		c.MapsCalls, c.MapsDuration, c.GeocodeCache,
		c.PushSent, c.PushSkipped, c.PushTokensPurge,
		c.LiveUploads, c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.CleanupPurged,
	)

	return c
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// ObserveMaps records one maps API call
func (c *Collector) ObserveMaps(api string, started time.Time, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.MapsCalls.WithLabelValues(api, result).Inc()
	c.MapsDuration.WithLabelValues(api).Observe(time.Since(started).Seconds())
}

// NATSPublishedInc implements publisher.Metrics
func (c *Collector) NATSPublishedInc() {
	if c != nil {
		c.NATSPublished.Inc()
	}
}

// NATSPublishErrInc implements publisher.Metrics
func (c *Collector) NATSPublishErrInc() {
	if c != nil {
		c.NATSPublishErrs.Inc()
	}
}

// NATSSetConnected implements publisher.Metrics
func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
		return
	}
	c.NATSConnected.Set(0)
}

// ObserveHTTP records one served request
func (c *Collector) ObserveHTTP(method, route string, status int, started time.Time) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(started).Seconds())
}

// ResolverLookup records which resolver strategy produced a route
func (c *Collector) ResolverLookup(strategy, result string) {
	if c != nil {
		c.ResolverLookups.WithLabelValues(strategy, result).Inc()
	}
}

// EtaComputed records the source of an ETA result
func (c *Collector) EtaComputed(source string) {
	if c != nil {
		c.EtaComputations.WithLabelValues(source).Inc()
	}
}

// GeocodeCacheResult records a geocode cache outcome
func (c *Collector) GeocodeCacheResult(result string) {
	if c != nil {
		c.GeocodeCache.WithLabelValues(result).Inc()
	}
}

// PushDelivered records a delivered notification
func (c *Collector) PushDelivered(kind string) {
	if c != nil {
		c.PushSent.WithLabelValues(kind).Inc()
	}
}

// PushSkippedReason records a skipped student
func (c *Collector) PushSkippedReason(reason string) {
	if c != nil {
		c.PushSkipped.WithLabelValues(reason).Inc()
	}
}

// PushTokensRemoved records stale tokens removed from a profile
func (c *Collector) PushTokensRemoved(n int) {
	if c != nil && n > 0 {
		c.PushTokensPurge.Add(float64(n))
	}
}

// LiveUpload records the outcome of a location upload
func (c *Collector) LiveUpload(result string) {
	if c != nil {
		c.LiveUploads.WithLabelValues(result).Inc()
	}
}

// Purged records rows removed by the maintenance job
func (c *Collector) Purged(target string, n int64) {
	if c != nil && n > 0 {
		c.CleanupPurged.WithLabelValues(target).Add(float64(n))
	}
}
