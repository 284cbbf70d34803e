package store

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	gqerrors "github.com/vnykmshr/goquota/pkg/common/errors"
	"github.com/vnykmshr/goquota/pkg/quota"
)

// DefaultCleanupSchedule runs the expired-entry sweep once a minute.
const DefaultCleanupSchedule = "@every 1m"

// MemoryConfig holds configuration for a Memory store.
type MemoryConfig struct {
	// CleanupSchedule is a cron expression (seconds field first) or
	// descriptor such as "@every 30s". Empty disables the sweep; expired
	// entries are then only hidden, never freed.
	CleanupSchedule string

	// Clock provides the time used for expiration. Defaults to the wall clock.
	Clock quota.Clock
}

// DefaultMemoryConfig returns the default Memory store configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		CleanupSchedule: DefaultCleanupSchedule,
		Clock:           quota.SystemClock{},
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Store. Expired entries are hidden immediately
// and freed by a cron-scheduled sweep.
type Memory[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	clock   quota.Clock
	sweeper *cron.Cron
	closed  bool
}

var cleanupParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewMemory creates a Memory store with the default configuration.
func NewMemory[V any]() *Memory[V] {
	m, err := NewMemoryWithConfig[V](DefaultMemoryConfig())
	if err != nil {
		panic(err)
	}
	return m
}

// NewMemoryWithConfig creates a Memory store with custom configuration.
// Returns an error if the cleanup schedule cannot be parsed.
func NewMemoryWithConfig[V any](config MemoryConfig) (*Memory[V], error) {
	if config.Clock == nil {
		config.Clock = quota.SystemClock{}
	}

	m := &Memory[V]{
		entries: make(map[string]entry[V]),
		clock:   config.Clock,
	}

	if config.CleanupSchedule != "" {
		schedule, err := cleanupParser.Parse(config.CleanupSchedule)
		if err != nil {
			return nil, gqerrors.NewValidationError("store", "cleanup_schedule", config.CleanupSchedule, err.Error()).
				WithHint(`use a descriptor such as "@every 1m"`)
		}
		m.sweeper = cron.New(cron.WithParser(cleanupParser))
		m.sweeper.Schedule(schedule, cron.FuncJob(func() { m.Cleanup() }))
		m.sweeper.Start()
	}

	return m, nil
}

// Get returns the value for key if present and unexpired.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero V
	if m.closed {
		return zero, false, gqerrors.ErrClosed
	}
	e, ok := m.entries[key]
	if !ok || e.expired(m.clock.Now()) {
		return zero, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key with an optional ttl.
func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return gqerrors.ErrClosed
	}
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Exists reports whether key holds an unexpired value.
func (m *Memory[V]) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

// Remove deletes key.
func (m *Memory[V]) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return gqerrors.ErrClosed
	}
	delete(m.entries, key)
	return nil
}

// Cleanup frees expired entries and returns how many were removed.
func (m *Memory[V]) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet swept.
func (m *Memory[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the sweep and rejects further use. It is safe to call
// more than once.
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.entries = nil
	m.mu.Unlock()

	if m.sweeper != nil {
		<-m.sweeper.Stop().Done()
	}
	return nil
}
