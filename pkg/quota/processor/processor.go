package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/common/validation"
	"github.com/vnykmshr/goquota/pkg/metrics"
	"github.com/vnykmshr/goquota/pkg/quota"
	"github.com/vnykmshr/goquota/pkg/quota/keylock"
	"github.com/vnykmshr/goquota/pkg/quota/store"
)

// Processor increments the counter behind a key and returns its new state.
type Processor interface {
	// Process adds the configured increment to the counter for key under
	// rule. A counter whose window has elapsed restarts at the increment.
	Process(ctx context.Context, key string, rule quota.Rule) (quota.Counter, error)

	// Peek returns the counter for key without changing it. The boolean
	// is false when no live counter exists; the returned counter then has
	// a zero count and the current window start.
	Peek(ctx context.Context, key string, rule quota.Rule) (quota.Counter, bool, error)

	// Kind returns the backend kind of the processor.
	Kind() Kind

	// Close releases resources the processor created itself. Stores and
	// clients passed in through Config are left open.
	Close() error
}

// Kind selects the counter backend.
type Kind int

const (
	// InMemory keeps counters in process, serialized by a per-key lock.
	InMemory Kind = iota

	// DistributedCache keeps counters in a shared Store. The read-modify-write
	// cycle is serialized per key within this process only.
	DistributedCache

	// AtomicBackend increments counters with a single atomic Redis script,
	// so all instances share exact counts.
	AtomicBackend
)

func (k Kind) String() string {
	switch k {
	case InMemory:
		return "in_memory"
	case DistributedCache:
		return "distributed_cache"
	case AtomicBackend:
		return "atomic_backend"
	default:
		return "unknown"
	}
}

// ParseKind maps "in_memory", "distributed_cache" or "atomic_backend" to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "in_memory", "memory":
		return InMemory, nil
	case "distributed_cache", "redis":
		return DistributedCache, nil
	case "atomic_backend", "atomic":
		return AtomicBackend, nil
	}
	return 0, gqerrors.NewValidationError("processor", "kind", s, "unknown processor kind").
		WithHint("use in_memory, distributed_cache or atomic_backend")
}

// Incrementer returns the weight of the current request. It must be
// positive.
type Incrementer func() float64

// Config holds configuration for creating a Processor.
type Config struct {
	// Counters stores counter state for InMemory and DistributedCache.
	// InMemory defaults to a fresh memory store; DistributedCache falls
	// back to a Redis store on Redis when unset.
	Counters store.Store[quota.Counter]

	// Redis backs AtomicBackend, and DistributedCache when Counters is nil.
	Redis redis.UniversalClient

	// KeyPrefix is prepended to Redis keys.
	KeyPrefix string

	// Locker serializes per-key updates. Defaults to keylock.New().
	Locker keylock.Locker

	// Clock provides the current time. Defaults to quota.SystemClock.
	Clock quota.Clock

	// Incrementer weighs each request. Defaults to a constant 1.
	Incrementer Incrementer

	// Timeout bounds each backend round trip.
	Timeout time.Duration

	// Name labels the processor's metrics.
	Name string

	// Metrics configures Prometheus instrumentation.
	Metrics metrics.Config

	ownsCounters bool
}

// DefaultConfig returns a default processor configuration.
func DefaultConfig() Config {
	return Config{
		Clock:     quota.SystemClock{},
		KeyPrefix: "goquota:",
		Timeout:   store.DefaultRedisTimeout,
		Name:      "default",
	}
}

// New creates a Processor of the given kind.
func New(kind Kind, config Config) (Processor, error) {
	if err := validateConfig(kind, config); err != nil {
		return nil, err
	}

	config, err := applyConfigDefaults(kind, config)
	if err != nil {
		return nil, err
	}

	return createByKind(kind, config)
}

func validateConfig(kind Kind, config Config) error {
	switch kind {
	case InMemory:
	case DistributedCache:
		if config.Counters == nil && config.Redis == nil {
			return gqerrors.NewValidationError("processor", "counters", nil, "distributed cache needs a store or a redis client")
		}
	case AtomicBackend:
		if config.Redis == nil {
			return gqerrors.NewValidationError("processor", "redis", nil, "atomic backend needs a redis client")
		}
	default:
		return gqerrors.NewValidationError("processor", "kind", int(kind), "unknown processor kind")
	}
	if config.Timeout < 0 {
		return gqerrors.NewValidationError("processor", "timeout", config.Timeout, "cannot be negative")
	}
	return nil
}

func applyConfigDefaults(kind Kind, config Config) (Config, error) {
	if config.Clock == nil {
		config.Clock = quota.SystemClock{}
	}
	if config.Incrementer == nil {
		config.Incrementer = func() float64 { return 1 }
	}
	if config.Locker == nil {
		config.Locker = keylock.New()
	}
	if config.Name == "" {
		config.Name = "default"
	}
	if config.Timeout == 0 {
		config.Timeout = store.DefaultRedisTimeout
	}
	if config.KeyPrefix == "" && config.Redis != nil {
		config.KeyPrefix = "goquota:"
	}

	if config.Counters == nil {
		switch kind {
		case InMemory:
			counters, err := store.NewMemoryWithConfig[quota.Counter](store.MemoryConfig{
				CleanupSchedule: store.DefaultCleanupSchedule,
				Clock:           config.Clock,
			})
			if err != nil {
				return config, err
			}
			config.Counters = counters
			config.ownsCounters = true
		case DistributedCache:
			counters, err := store.NewRedis[quota.Counter](store.RedisConfig{
				Client:    config.Redis,
				KeyPrefix: config.KeyPrefix,
				Timeout:   config.Timeout,
			})
			if err != nil {
				return config, err
			}
			config.Counters = counters
		}
	}
	return config, nil
}

func createByKind(kind Kind, config Config) (Processor, error) {
	switch kind {
	case InMemory, DistributedCache:
		return newLocking(kind, config), nil
	case AtomicBackend:
		return newAtomic(config), nil
	default:
		return nil, gqerrors.NewValidationError("processor", "kind", int(kind), "unknown processor kind")
	}
}

// increment evaluates inc and rejects weights that are not positive and finite.
func increment(inc Incrementer) (float64, error) {
	v := inc()
	if err := validation.ValidatePositiveFloat("processor", "increment", v); err != nil {
		return 0, err
	}
	return v, nil
}

// resolvePeriod makes sure rule carries a usable duration.
func resolvePeriod(rule quota.Rule) (quota.Rule, error) {
	resolved, err := rule.Resolved()
	if err != nil {
		return rule, fmt.Errorf("processor: %w", err)
	}
	return resolved, nil
}
