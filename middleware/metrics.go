package middleware

import (
	"time"

	"github.com/GoCodeAlone/actormesh/envelope"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector bundles the Prometheus instruments the Metrics
// middleware updates per invocation (§4.M).
type MetricsCollector struct {
	Invocations *prometheus.CounterVec
	Durations   *prometheus.HistogramVec
	PayloadSize *prometheus.HistogramVec
}

// NewMetricsCollector builds and registers the standard instrument set
// against reg. Pass prometheus.NewRegistry() in tests to avoid
// colliding with the default global registry across test runs.
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	c := &MetricsCollector{
		Invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "actormesh",
			Name:      "invocations_total",
			Help:      "Total invocations processed, by actor type, method, and outcome.",
		}, []string{"actor_type", "method", "outcome"}),
		Durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "actormesh",
			Name:      "invocation_duration_seconds",
			Help:      "Invocation handler duration in seconds, by actor type and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"actor_type", "method"}),
		PayloadSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "actormesh",
			Name:      "invocation_payload_bytes",
			Help:      "Sum of argument byte sizes per invocation.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"actor_type", "method"}),
	}
	reg.MustRegister(c.Invocations, c.Durations, c.PayloadSize)
	return c
}

// Metrics returns a middleware that records one invocation's outcome,
// duration, and payload size against collector. actorTypeOf resolves
// the envelope's instance-level actorID to the logical actor type used
// as a metric label.
func Metrics(collector *MetricsCollector, actorTypeOf func(env *envelope.Envelope) string) Middleware {
	return func(next Handler) Handler {
		return func(mctx *Context) *envelope.Envelope {
			env := mctx.Envelope
			actorType := actorTypeOf(env)

			payloadBytes := 0
			for _, a := range env.Arguments {
				payloadBytes += len(a)
			}
			collector.PayloadSize.WithLabelValues(actorType, env.TargetIdentifier).Observe(float64(payloadBytes))

			start := time.Now()
			resp := next(mctx)
			collector.Durations.WithLabelValues(actorType, env.TargetIdentifier).Observe(time.Since(start).Seconds())

			outcome := "success"
			if resp.ErrorMessage != nil {
				outcome = "failure"
			}
			collector.Invocations.WithLabelValues(actorType, env.TargetIdentifier, outcome).Inc()

			return resp
		}
	}
}
