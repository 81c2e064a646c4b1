package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink registers one metric per event named in spec §6 and
// updates it on every Emit call, the same package-level
// New*/MustRegister shape the teacher's internal/metrics package uses,
// but scoped to an instance (a process may run several Connections and
// Pools, each wanting its own registry in tests) rather than package
// globals.
type PrometheusSink struct {
	registry *prometheus.Registry

	connectTime   prometheus.Histogram
	heartbeatRTT  prometheus.Histogram
	correlatorOps *prometheus.CounterVec
	subscription  *prometheus.CounterVec
	rateLimiter   *prometheus.CounterVec
	rateLimiterQ  prometheus.Gauge
	poolHealth    prometheus.Gauge
	poolRoute     *prometheus.CounterVec
}

// NewPrometheusSink builds a sink registered against its own fresh
// registry, exposed through Registry(), so instances never collide. No
// constructor in this package registers on prometheus.DefaultRegisterer.
func NewPrometheusSink(namespace string) *PrometheusSink {
	reg := prometheus.NewRegistry()
	s := newPrometheusSink(namespace)
	reg.MustRegister(
		s.connectTime, s.heartbeatRTT, s.correlatorOps, s.subscription,
		s.rateLimiter, s.rateLimiterQ, s.poolHealth, s.poolRoute,
	)
	s.registry = reg
	return s
}

// Registry returns the underlying Prometheus registry for exposition via
// promhttp.HandlerFor.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

func newPrometheusSink(namespace string) *PrometheusSink {
	return &PrometheusSink{
		connectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connection_upgrade_connect_time_ms",
			Help:      "Time from dial start to successful upgrade, in milliseconds",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		heartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "heartbeat_pong_rtt_ms",
			Help:      "Heartbeat round-trip time in milliseconds",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		correlatorOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_correlator_ops_total",
			Help:      "Request correlator operations by outcome",
		}, []string{"op"}), // track, resolve, timeout
		subscription: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_manager_ops_total",
			Help:      "Subscription registry operations",
		}, []string{"op"}), // add, remove, restore
		rateLimiter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limiter_ops_total",
			Help:      "Rate limiter operations by outcome",
		}, []string{"op"}), // consume, queue, queue_full, refill
		rateLimiterQ: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limiter_pressure_ratio",
			Help:      "Current rate limiter queue fill ratio",
		}),
		poolHealth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_avg_health",
			Help:      "Average health score across the pool",
		}),
		poolRoute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_route_total",
			Help:      "Pool router selections",
		}, []string{"selected"}),
	}
}

// Emit implements Emitter.
func (s *PrometheusSink) Emit(e Event) {
	switch e.Name {
	case "connection.upgrade":
		if v, ok := e.Measurements["connect_time_ms"]; ok {
			s.connectTime.Observe(v)
		}
	case "heartbeat.pong":
		if v, ok := e.Measurements["rtt_ms"]; ok {
			s.heartbeatRTT.Observe(v)
		}
	case "request_correlator.track":
		s.correlatorOps.WithLabelValues("track").Inc()
	case "request_correlator.resolve":
		s.correlatorOps.WithLabelValues("resolve").Inc()
	case "request_correlator.timeout":
		s.correlatorOps.WithLabelValues("timeout").Inc()
	case "subscription_manager.add":
		s.subscription.WithLabelValues("add").Inc()
	case "subscription_manager.remove":
		s.subscription.WithLabelValues("remove").Inc()
	case "subscription_manager.restore":
		s.subscription.WithLabelValues("restore").Inc()
	case "rate_limiter.consume":
		s.rateLimiter.WithLabelValues("consume").Inc()
	case "rate_limiter.queue":
		s.rateLimiter.WithLabelValues("queue").Inc()
	case "rate_limiter.queue_full":
		s.rateLimiter.WithLabelValues("queue_full").Inc()
	case "rate_limiter.refill":
		s.rateLimiter.WithLabelValues("refill").Inc()
	case "rate_limiter.pressure":
		if v, ok := e.Measurements["ratio"]; ok {
			s.rateLimiterQ.Set(v)
		}
	case "pool.health":
		if v, ok := e.Measurements["avg_health"]; ok {
			s.poolHealth.Set(v)
		}
	case "pool.route":
		s.poolRoute.WithLabelValues(e.Metadata["selected"]).Inc()
	}
}
