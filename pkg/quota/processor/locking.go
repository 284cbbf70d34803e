package processor

import (
	"context"
	"io"
	"time"

	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/keylock"
	"github.com/vnykmshr/goquota/pkg/quota/store"
)

// lockingProcessor runs a get, update, set cycle on a Store under a
// per-key lock.
type lockingProcessor struct {
	kind        Kind
	counters    store.Store[quota.Counter]
	locks       keylock.Locker
	clock       quota.Clock
	incrementer Incrementer
	name        string
	registry    *metrics.Registry
	closer      io.Closer
}

func newLocking(kind Kind, config Config) *lockingProcessor {
	p := &lockingProcessor{
		kind:        kind,
		counters:    config.Counters,
		locks:       config.Locker,
		clock:       config.Clock,
		incrementer: config.Incrementer,
		name:        config.Name,
		registry:    metrics.Resolve(config.Metrics),
	}
	if c, ok := config.Counters.(io.Closer); ok && config.ownsCounters {
		p.closer = c
	}
	return p
}

// Process increments the counter for key.
func (p *lockingProcessor) Process(ctx context.Context, key string, rule quota.Rule) (quota.Counter, error) {
	rule, err := resolvePeriod(rule)
	if err != nil {
		return quota.Counter{}, err
	}
	inc, err := increment(p.incrementer)
	if err != nil {
		return quota.Counter{}, err
	}

	start := time.Now()
	guard, err := p.locks.Lock(ctx, key)
	if err != nil {
		return quota.Counter{}, err
	}
	defer guard.Release()
	if p.registry != nil {
		p.registry.LockWait.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
		defer p.observe(time.Now())
	}

	now := p.clock.Now()
	counter := quota.Counter{Timestamp: now, Count: inc}

	existing, ok, err := p.counters.Get(ctx, key)
	if err != nil {
		return quota.Counter{}, err
	}
	if ok && !existing.Expired(rule.PeriodDuration, now) {
		counter.Timestamp = existing.Timestamp
		counter.Count = existing.Count + inc
	}

	if err := p.counters.Set(ctx, key, counter, rule.PeriodDuration); err != nil {
		return quota.Counter{}, err
	}
	return counter, nil
}

// Peek reads the counter for key under a shared lock.
func (p *lockingProcessor) Peek(ctx context.Context, key string, rule quota.Rule) (quota.Counter, bool, error) {
	rule, err := resolvePeriod(rule)
	if err != nil {
		return quota.Counter{}, false, err
	}

	guard, err := p.locks.RLock(ctx, key)
	if err != nil {
		return quota.Counter{}, false, err
	}
	defer guard.Release()

	now := p.clock.Now()
	existing, ok, err := p.counters.Get(ctx, key)
	if err != nil {
		return quota.Counter{}, false, err
	}
	if !ok || existing.Expired(rule.PeriodDuration, now) {
		return quota.Counter{Timestamp: now}, false, nil
	}
	return existing, true, nil
}

func (p *lockingProcessor) Kind() Kind {
	return p.kind
}

func (p *lockingProcessor) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

func (p *lockingProcessor) observe(start time.Time) {
	p.registry.ProcessDuration.WithLabelValues(p.kind.String(), p.name).Observe(time.Since(start).Seconds())
}
