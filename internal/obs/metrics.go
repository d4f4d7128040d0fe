package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ottCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_ott_created_total",
		Help: "One-time tokens issued.",
	})
	ottConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_ott_consumed_total",
			Help: "One-time token redemption attempts by result.",
		},
		[]string{"result"},
	)
	ottReaped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_ott_reaped_total",
		Help: "Expired one-time tokens removed by the reaper.",
	})
	ottLive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "auth_ott_live",
		Help: "One-time tokens currently held in memory.",
	})

	loginTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)
)

// Init registers the service metrics in the default registry. Safe to call
// more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			ottCreated, ottConsumed, ottReaped, ottLive,
			loginTotal,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records RPS, latency and in-flight requests. Used as mux
// middleware the path label is the route template, keeping cardinality flat.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := RoutePath(r)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// RoutePath returns the matched mux route template, or the raw path.
func RoutePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	if r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// OTTMetrics reports one-time token store events to prometheus.
type OTTMetrics struct{}

func (OTTMetrics) Created()               { ottCreated.Inc() }
func (OTTMetrics) Consumed(result string) { ottConsumed.WithLabelValues(result).Inc() }
func (OTTMetrics) Reaped(n int)           { ottReaped.Add(float64(n)) }
func (OTTMetrics) Live(n int)             { ottLive.Set(float64(n)) }

// LoginMetrics counts login outcomes.
type LoginMetrics struct{}

func (LoginMetrics) Login(result string) { loginTotal.WithLabelValues(result).Inc() }
