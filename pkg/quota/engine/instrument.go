package engine

import (
	"github.com/vnykmshr/goquota/pkg/metrics"
)

var _ metrics.Instrumentable = (*Engine)(nil)

// EnableMetrics enables metrics collection.
func (e *Engine) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		e.registry.Store(nil)
		return nil
	}
	e.registry.Store(metrics.Resolve(config))
	return nil
}

// DisableMetrics disables metrics collection.
func (e *Engine) DisableMetrics() {
	e.registry.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (e *Engine) MetricsEnabled() bool {
	return e.registry.Load() != nil
}

func (e *Engine) recordRequest() {
	if r := e.registry.Load(); r != nil {
		r.Requests.WithLabelValues(e.opts.Flavor.String(), e.name).Inc()
	}
}

func (e *Engine) recordDecision(d Decision) {
	if r := e.registry.Load(); r != nil {
		r.Decisions.WithLabelValues(e.name, d.Outcome.String()).Inc()
	}
}

func (e *Engine) recordViolation(v Violation) {
	if r := e.registry.Load(); r != nil {
		monitor := "false"
		if v.MonitorOnly {
			monitor = "true"
		}
		r.Violations.WithLabelValues(e.name, v.Rule.Period, monitor).Inc()
	}
}

func (e *Engine) recordError(kind string) {
	if r := e.registry.Load(); r != nil {
		r.Errors.WithLabelValues(e.name, kind).Inc()
	}
}

func (e *Engine) recordPolicies(n int) {
	if r := e.registry.Load(); r != nil {
		r.Policies.WithLabelValues(e.name).Set(float64(n))
	}
}
