package processor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	gqcontext "github.com/vnykmshr/goquota/pkg/common/context"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/store"
)

// luaIncrement adds ARGV[1] to KEYS[1] and, on the first increment of a
// window, sets its expiry to ARGV[2] milliseconds. It returns the new count.
const luaIncrement = `
local count = redis.call('INCRBYFLOAT', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) == -1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return count
`

// atomicProcessor keeps one Redis key per counter window. Windows are
// aligned to the Unix epoch, so every instance maps a request to the
// same key without coordination.
type atomicProcessor struct {
	client      redis.UniversalClient
	prefix      string
	timeout     time.Duration
	clock       quota.Clock
	incrementer Incrementer
	name        string
	registry    *metrics.Registry
	script      *redis.Script
}

func newAtomic(config Config) *atomicProcessor {
	return &atomicProcessor{
		client:      config.Redis,
		prefix:      config.KeyPrefix,
		timeout:     config.Timeout,
		clock:       config.Clock,
		incrementer: config.Incrementer,
		name:        config.Name,
		registry:    metrics.Resolve(config.Metrics),
		script:      redis.NewScript(luaIncrement),
	}
}

func (p *atomicProcessor) windowKey(key string, windowStart time.Time) string {
	return p.prefix + key + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
}

// Process increments the current window's counter in one round trip.
func (p *atomicProcessor) Process(ctx context.Context, key string, rule quota.Rule) (quota.Counter, error) {
	rule, err := resolvePeriod(rule)
	if err != nil {
		return quota.Counter{}, err
	}
	inc, err := increment(p.incrementer)
	if err != nil {
		return quota.Counter{}, err
	}
	if p.registry != nil {
		defer p.observe(time.Now())
	}

	window := quota.AlignedWindowStart(p.clock.Now(), rule.PeriodDuration)
	periodMillis := rule.PeriodDuration.Milliseconds()
	if periodMillis < 1 {
		periodMillis = 1
	}

	ctx, cancel := gqcontext.WithOptionalTimeout(ctx, p.timeout)
	defer cancel()

	reply, err := p.script.Run(ctx, p.client,
		[]string{p.windowKey(key, window)},
		strconv.FormatFloat(inc, 'f', -1, 64),
		periodMillis,
	).Result()
	if err != nil {
		return quota.Counter{}, &store.RedisError{Operation: "incr", Key: key, Err: err}
	}

	count, err := parseCount(reply)
	if err != nil {
		return quota.Counter{}, &store.DecodeError{Key: key, Err: err}
	}
	return quota.Counter{Timestamp: window, Count: count}, nil
}

// Peek reads the current window's counter.
func (p *atomicProcessor) Peek(ctx context.Context, key string, rule quota.Rule) (quota.Counter, bool, error) {
	rule, err := resolvePeriod(rule)
	if err != nil {
		return quota.Counter{}, false, err
	}
	window := quota.AlignedWindowStart(p.clock.Now(), rule.PeriodDuration)

	ctx, cancel := gqcontext.WithOptionalTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.client.Get(ctx, p.windowKey(key, window)).Result()
	if errors.Is(err, redis.Nil) {
		return quota.Counter{Timestamp: window}, false, nil
	}
	if err != nil {
		return quota.Counter{}, false, &store.RedisError{Operation: "get", Key: key, Err: err}
	}
	count, err := parseCount(raw)
	if err != nil {
		return quota.Counter{}, false, &store.DecodeError{Key: key, Err: err}
	}
	return quota.Counter{Timestamp: window, Count: count}, true, nil
}

func (p *atomicProcessor) Kind() Kind {
	return AtomicBackend
}

func (p *atomicProcessor) Close() error {
	return nil
}

func (p *atomicProcessor) observe(start time.Time) {
	p.registry.ProcessDuration.WithLabelValues(AtomicBackend.String(), p.name).Observe(time.Since(start).Seconds())
}

func parseCount(reply interface{}) (float64, error) {
	switch v := reply.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected counter reply %T", reply)
	}
}
