// Package store provides the counter and policy stores used by the
// decision engine: an in-process Memory store with cron-scheduled
// expiry sweeps, and a Redis store shared across instances.
package store
