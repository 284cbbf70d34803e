// Package metrics provides Prometheus instrumentation for goquota components.
//
// # Overview
//
// The decision engine, the counter processors and the configuration
// watcher record into a Registry:
//   - Decisions by outcome (allowed, blocked, whitelisted)
//   - Rule violations per period, split by monitor-only rules
//   - Counter increment latency and per-key lock wait time
//   - Configuration reloads and seeded policy counts
//
// # Quick Start
//
//	registry := prometheus.NewRegistry()
//	eng, err := engine.New(engine.Config{
//		// ...
//		Metrics: metrics.Config{Enabled: true, Registry: registry},
//	})
//
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// # Available Metrics
//
//   - goquota_engine_requests_total: Requests evaluated, by flavor
//   - goquota_engine_decisions_total: Decisions by outcome
//   - goquota_engine_violations_total: Rule violations
//   - goquota_engine_errors_total: Failed evaluations by error kind
//   - goquota_processor_duration_seconds: Counter increment latency
//   - goquota_processor_lock_wait_seconds: Per-key lock wait time
//   - goquota_config_reloads_total: Configuration reloads by result
//   - goquota_config_policies: Seeded subject policies
//
// # Labels
//
//   - limiter_name: User-provided name for the engine instance
//   - flavor: "client", "ip" or "metadata"
//   - outcome: "allowed", "blocked" or "whitelisted"
//   - processor_kind: "in_memory", "distributed_cache" or "atomic_backend"
//
// # Runtime Control
//
// Components implementing Instrumentable can be toggled at runtime:
//
//	eng.DisableMetrics()
//	eng.EnableMetrics(config)
//	enabled := eng.MetricsEnabled()
package metrics
