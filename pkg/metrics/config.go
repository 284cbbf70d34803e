package metrics

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Config holds configuration for metrics collection.
type Config struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool

	// Registry is the Prometheus registry to use. If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Namespace overrides the default "goquota" namespace for metrics.
	Namespace string

	// Labels are additional labels to add to all metrics.
	Labels prometheus.Labels
}

// DefaultConfig returns a default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Registry:  prometheus.DefaultRegisterer,
		Namespace: DefaultNamespace,
		Labels:    nil,
	}
}

type registryKey struct {
	registerer prometheus.Registerer
	namespace  string
	labels     string
}

var (
	resolvedMu sync.Mutex
	resolved   = map[registryKey]*Registry{}
)

// Resolve returns the registry a component should record into: the
// shared DefaultRegistry when config names no registerer, otherwise the
// one registered on config.Registry, created on first use so components
// sharing a registerer share collectors. It returns nil when metrics are
// disabled.
func Resolve(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}
	if config.Registry == nil || (config.Registry == prometheus.DefaultRegisterer &&
		config.Namespace == DefaultNamespace && len(config.Labels) == 0) {
		return DefaultRegistry
	}

	key := registryKey{registerer: config.Registry, namespace: config.Namespace, labels: labelKey(config.Labels)}
	resolvedMu.Lock()
	defer resolvedMu.Unlock()
	if r, ok := resolved[key]; ok {
		return r
	}
	r := NewRegistryWithConfig(config)
	resolved[key] = r
	return r
}

func labelKey(labels prometheus.Labels) string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

// Instrumentable is an interface for components that can be instrumented with metrics.
type Instrumentable interface {
	// EnableMetrics enables metrics collection for this component.
	EnableMetrics(config Config) error

	// DisableMetrics disables metrics collection for this component.
	DisableMetrics()

	// MetricsEnabled returns true if metrics are currently enabled.
	MetricsEnabled() bool
}
