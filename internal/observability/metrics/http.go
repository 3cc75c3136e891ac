package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flowagent"

// Collector 汇总 HTTP 与链上派发指标，并以 Prometheus 格式暴露。
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	dispatches       *prometheus.CounterVec
	dispatchAttempts *prometheus.HistogramVec
	dispatchLatency  *prometheus.HistogramVec
}

// New 创建一个使用独立注册表的 Collector。
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Contract dispatches by action type and outcome kind.",
		}, []string{"action", "outcome"}),
		dispatchAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_attempts",
			Help:      "Attempts spent per contract dispatch.",
			Buckets:   []float64{1, 2, 3, 5},
		}, []string{"action"}),
		dispatchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Contract dispatch duration including confirmation wait.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"action"}),
	}
	c.registry.MustRegister(
		c.httpRequests, c.httpErrors, c.httpLatency,
		c.dispatches, c.dispatchAttempts, c.dispatchLatency,
		collectors.NewGoCollector(),
	)
	return c
}

var defaultCollector = New()

// Default 返回进程级 Collector。
func Default() *Collector { return defaultCollector }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultCollector.ObserveHTTPRequest(handler, method, status, duration)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveDispatch 记录一次合约派发，实现 dispatch.Observer。
func (c *Collector) ObserveDispatch(actionType, outcome string, attempts int, elapsed time.Duration) {
	c.dispatches.WithLabelValues(actionType, outcome).Inc()
	if attempts > 0 {
		c.dispatchAttempts.WithLabelValues(actionType).Observe(float64(attempts))
	}
	c.dispatchLatency.WithLabelValues(actionType).Observe(elapsed.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Handler exposes the default collector.
func Handler() http.Handler {
	return defaultCollector.Handler()
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
