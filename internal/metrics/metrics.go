package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/pointledger/pkg/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace        = "pointledger"
	labelOperation   = "operation"
	labelStatus      = "status"
	labelRoute       = "route"
	labelMethod      = "method"
	operationCharge  = "charge"
	operationUse     = "use"
	operationRecover = "recover"
)

// Metrics holds the collectors of one process on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	operationsTotal *prometheus.CounterVec
	pointsCharged   prometheus.Counter
	pointsUsed      prometheus.Counter
	recoveriesTotal *prometheus.CounterVec
	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

// New registers every collector, including the Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Metrics{
		registry: registry,
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Ledger operations by outcome.",
			},
			[]string{labelOperation, labelStatus},
		),
		pointsCharged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "points_charged_total",
				Help:      "Points added by successful charges.",
			},
		),
		pointsUsed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "points_used_total",
				Help:      "Points removed by successful uses.",
			},
		),
		recoveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recoveries_total",
				Help:      "Recovery decisions taken on interrupted mutations.",
			},
			[]string{labelStatus},
		),
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{labelRoute, labelMethod, labelStatus},
		),
		requestLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{labelRoute, labelMethod, labelStatus},
		),
	}
}

// Registry exposes the underlying registry.
func (metrics *Metrics) Registry() *prometheus.Registry {
	return metrics.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{Registry: metrics.registry})
}

// LogOperation implements ledger.OperationLogger.
func (metrics *Metrics) LogOperation(_ context.Context, entry ledger.OperationLog) {
	if entry.Operation == operationRecover {
		metrics.recoveriesTotal.WithLabelValues(entry.Status).Inc()
		return
	}
	metrics.operationsTotal.WithLabelValues(entry.Operation, entry.Status).Inc()
	if entry.Error != nil {
		return
	}
	switch entry.Operation {
	case operationCharge:
		metrics.pointsCharged.Add(float64(entry.Amount.Int64()))
	case operationUse:
		metrics.pointsUsed.Add(float64(entry.Amount.Int64()))
	}
}

// ObserveRequest records one served HTTP request.
func (metrics *Metrics) ObserveRequest(route string, method string, status int, elapsed time.Duration) {
	statusLabel := strconv.Itoa(status)
	metrics.requestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	metrics.requestLatency.WithLabelValues(route, method, statusLabel).Observe(elapsed.Seconds())
}
