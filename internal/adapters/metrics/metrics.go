package metrics

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evanschultz/poa/internal/domain"
)

// SummarySource reports current request analytics.
type SummarySource interface {
	Summary(context.Context) (domain.Summary, error)
}

// Collector owns a private registry with engine and HTTP metrics.
type Collector struct {
	registry       *prometheus.Registry
	created        prometheus.Counter
	approvals      prometheus.Counter
	finalizations  *prometheus.CounterVec
	sweepDuration  prometheus.Histogram
	sweepFinalized prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New constructs a collector. When source is non-nil, request gauges read from it at scrape time.
func New(source SummarySource) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		created: factory.NewCounter(prometheus.CounterOpts{
			Name: "poa_requests_created_total",
			Help: "Total number of accountability requests created",
		}),
		approvals: factory.NewCounter(prometheus.CounterOpts{
			Name: "poa_approvals_total",
			Help: "Total number of recorded actor approvals",
		}),
		finalizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poa_finalizations_total",
			Help: "Total number of requests finalized, by terminal status",
		}, []string{"status"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "poa_sweep_duration_seconds",
			Help:    "Finalization sweep duration in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		sweepFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "poa_sweep_finalized_total",
			Help: "Total number of requests finalized by the periodic sweep",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "poa_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poa_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	if source != nil {
		gauge := func(pick func(domain.Summary) int) func() float64 {
			return func() float64 {
				s, err := source.Summary(context.Background())
				if err != nil {
					return 0
				}
				return float64(pick(s))
			}
		}
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "poa_pending_requests",
			Help: "Current number of pending requests",
		}, gauge(func(s domain.Summary) int { return s.Pending }))
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "poa_requests",
			Help: "Current number of requests",
		}, gauge(func(s domain.Summary) int { return s.Total }))
	}
	return c
}

// Registry exposes the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveSweep records one sweep run.
func (c *Collector) ObserveSweep(finalized int, elapsed time.Duration) {
	c.sweepDuration.Observe(elapsed.Seconds())
	c.sweepFinalized.Add(float64(finalized))
}

// Record counts one change event.
func (c *Collector) Record(ev domain.ChangeEvent) {
	switch ev.Operation {
	case domain.ChangeOperationCreate:
		c.created.Inc()
	case domain.ChangeOperationApprove:
		c.approvals.Inc()
	case domain.ChangeOperationFinalize:
		c.finalizations.WithLabelValues(string(ev.Status)).Inc()
	}
}

// Consume records events until the channel closes or ctx is done.
func (c *Collector) Consume(ctx context.Context, events <-chan domain.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Record(ev)
		}
	}
}

// Middleware counts and times requests. The route label is the matched
// ServeMux pattern, so ids in paths do not explode cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(started).Seconds())
	})
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader records the status before delegating.
func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack supports websocket upgrades behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
