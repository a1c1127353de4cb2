package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine reports. Each instance owns its
// registry, so tests and embedded engines never collide on registration.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FlightInFlight      *prometheus.GaugeVec
	FlightShared        *prometheus.CounterVec
	CacheResolutions    *prometheus.CounterVec
	ReferenceFetches    *prometheus.CounterVec
	Interactions        *prometheus.CounterVec
	Redirects           *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.FlightInFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "etat_flight_inflight",
			Help: "Number of single-flight operations currently running",
		},
		[]string{"kind"},
	)

	m.FlightShared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etat_flight_shared_total",
			Help: "Callers that joined an operation already in flight",
		},
		[]string{"kind"},
	)

	m.CacheResolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etat_cache_resolutions_total",
			Help: "Cache policy resolutions by outcome",
		},
		[]string{"outcome"},
	)

	m.ReferenceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etat_reference_fetches_total",
			Help: "Remote reference endpoint requests by result",
		},
		[]string{"result"},
	)

	m.Interactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etat_session_interactions_total",
			Help: "Interaction records appended to sessions",
		},
		[]string{"kind"},
	)

	m.Redirects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etat_navigation_redirects_total",
			Help: "Route guard redirects by outcome",
		},
		[]string{"outcome"},
	)

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "etat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "etat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FlightInFlight,
		m.FlightShared,
		m.CacheResolutions,
		m.ReferenceFetches,
		m.Interactions,
		m.Redirects,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FlightStarted(kind string) {
	if m == nil {
		return
	}
	m.FlightInFlight.WithLabelValues(kind).Inc()
}

func (m *Metrics) FlightFinished(kind string) {
	if m == nil {
		return
	}
	m.FlightInFlight.WithLabelValues(kind).Dec()
}

func (m *Metrics) FlightJoined(kind string) {
	if m == nil {
		return
	}
	m.FlightShared.WithLabelValues(kind).Inc()
}

func (m *Metrics) CacheResolved(outcome string) {
	if m == nil {
		return
	}
	m.CacheResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReferenceFetched(result string) {
	if m == nil {
		return
	}
	m.ReferenceFetches.WithLabelValues(result).Inc()
}

func (m *Metrics) InteractionRecorded(kind string) {
	if m == nil {
		return
	}
	m.Interactions.WithLabelValues(kind).Inc()
}

func (m *Metrics) Redirected(outcome string) {
	if m == nil {
		return
	}
	m.Redirects.WithLabelValues(outcome).Inc()
}

// RequestTrackingMiddleware records count and latency for every request.
func (m *Metrics) RequestTrackingMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
