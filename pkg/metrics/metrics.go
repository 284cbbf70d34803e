// Package metrics provides Prometheus instrumentation for goquota components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every goquota metric name.
const DefaultNamespace = "goquota"

// Registry holds all metric instances for goquota components.
type Registry struct {
	// Decision Metrics
	Requests   *prometheus.CounterVec
	Decisions  *prometheus.CounterVec
	Violations *prometheus.CounterVec
	Errors     *prometheus.CounterVec

	// Counter Processing Metrics
	ProcessDuration *prometheus.HistogramVec
	LockWait        *prometheus.HistogramVec

	// Configuration Metrics
	ConfigReloads *prometheus.CounterVec
	Policies      *prometheus.GaugeVec
}

// DefaultRegistry is the default metrics registry used by goquota components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithConfig(Config{Registry: reg, Namespace: DefaultNamespace})
}

// NewRegistryWithConfig creates a registry honoring the namespace and
// constant labels of config.
func NewRegistryWithConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Registry{
		// Decision Metrics
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "engine",
				Name:        "requests_total",
				Help:        "Total number of requests evaluated",
				ConstLabels: config.Labels,
			},
			[]string{"flavor", "limiter_name"},
		),

		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "engine",
				Name:        "decisions_total",
				Help:        "Total number of decisions by outcome",
				ConstLabels: config.Labels,
			},
			[]string{"limiter_name", "outcome"},
		),

		Violations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "engine",
				Name:        "violations_total",
				Help:        "Total number of rule violations",
				ConstLabels: config.Labels,
			},
			[]string{"limiter_name", "period", "monitor_only"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "engine",
				Name:        "errors_total",
				Help:        "Total number of failed evaluations",
				ConstLabels: config.Labels,
			},
			[]string{"limiter_name", "kind"},
		),

		// Counter Processing Metrics
		ProcessDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "processor",
				Name:        "duration_seconds",
				Help:        "Time spent incrementing a counter",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: config.Labels,
			},
			[]string{"processor_kind", "limiter_name"},
		),

		LockWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "processor",
				Name:        "lock_wait_seconds",
				Help:        "Time spent waiting for a per-key counter lock",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: config.Labels,
			},
			[]string{"limiter_name"},
		),

		// Configuration Metrics
		ConfigReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "config",
				Name:        "reloads_total",
				Help:        "Total number of configuration reloads by result",
				ConstLabels: config.Labels,
			},
			[]string{"result"},
		),

		Policies: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "config",
				Name:        "policies",
				Help:        "Number of seeded subject policies",
				ConstLabels: config.Labels,
			},
			[]string{"limiter_name"},
		),
	}
}
