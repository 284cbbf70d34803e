// Package config loads limiter configuration from YAML and keeps an
// engine's policies in step with the file.
//
// A file describes the limiter flavor, general rules, seeded policies,
// whitelist, processing strategy and Redis connection:
//
//	name: api
//	flavor: client
//	processor: atomic_backend
//	redis:
//	  addr: localhost:6379
//	general_rules:
//	  - endpoint: "*"
//	    period: 1s
//	    limit: 10
//	policies:
//	  - subject: partner
//	    rules:
//	      - endpoint: "*"
//	        period: 1s
//	        limit: 100
//	reload_schedule: "@every 30s"
//
// Load validates the file strictly; unknown keys are errors. EngineConfig
// converts it for engine.New, and a Watcher re-applies its policies on a
// cron schedule.
package config
