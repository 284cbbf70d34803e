package keylock

import (
	"context"
	"sync"

	"github.com/vnykmshr/goquota/pkg/common/validation"
)

// DefaultPoolSize bounds how many idle per-key lock states are kept for reuse.
const DefaultPoolSize = 20

// Locker serializes access to keyed resources. Locks on different keys
// never contend; locks on the same key follow reader/writer semantics.
type Locker interface {
	// Lock acquires the exclusive lock for key, waiting in FIFO order
	// behind earlier writers. It returns ctx.Err() if ctx ends first, in
	// which case nothing is held.
	Lock(ctx context.Context, key string) (*Guard, error)

	// RLock acquires a shared lock for key. Readers queue behind pending
	// writers.
	RLock(ctx context.Context, key string) (*Guard, error)

	// Len returns the number of keys currently held or waited on.
	Len() int
}

// Config holds configuration options for creating a new Locker.
type Config struct {
	// PoolSize is the maximum number of idle lock states retained for
	// reuse. Zero disables pooling.
	PoolSize int
}

// DefaultConfig returns the default Locker configuration.
func DefaultConfig() Config {
	return Config{PoolSize: DefaultPoolSize}
}

// registry maps keys to their lock state. Entries are reference counted:
// holders and waiters each hold one reference, and the entry is dropped
// from the map when the last one leaves.
type registry struct {
	mu       sync.Mutex
	doormen  map[string]*doorman
	pool     []*doorman
	poolSize int
}

// New creates a Locker with the default configuration.
func New() Locker {
	l, _ := NewWithConfig(DefaultConfig())
	return l
}

// NewWithConfig creates a Locker with custom configuration.
// Returns an error if the pool size is negative.
func NewWithConfig(config Config) (Locker, error) {
	if err := validation.ValidateNonNegative("keylock", "pool_size", float64(config.PoolSize)); err != nil {
		return nil, err
	}
	return &registry{
		doormen:  make(map[string]*doorman),
		poolSize: config.PoolSize,
	}, nil
}

// Lock acquires the exclusive lock for key.
func (r *registry) Lock(ctx context.Context, key string) (*Guard, error) {
	return r.acquire(ctx, key, true)
}

// RLock acquires a shared lock for key.
func (r *registry) RLock(ctx context.Context, key string) (*Guard, error) {
	return r.acquire(ctx, key, false)
}

func (r *registry) acquire(ctx context.Context, key string, write bool) (*Guard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := r.checkout(key)

	var w *waiter
	if write {
		w = d.lock()
	} else {
		w = d.rlock()
	}

	guard := &Guard{registry: r, doorman: d, write: write}
	if w == nil {
		return guard, nil
	}

	select {
	case <-w.ready:
		return guard, nil
	case <-ctx.Done():
		if write {
			d.abandonWrite(w)
		} else {
			d.abandonRead(w)
		}
		r.checkin(d)
		return nil, ctx.Err()
	}
}

// Len returns the number of active keys.
func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.doormen)
}

// idle returns the number of pooled lock states.
func (r *registry) idle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pool)
}

func (r *registry) checkout(key string) *doorman {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.doormen[key]
	if !ok {
		if n := len(r.pool); n > 0 {
			d = r.pool[n-1]
			r.pool[n-1] = nil
			r.pool = r.pool[:n-1]
		} else {
			d = &doorman{}
		}
		d.key = key
		r.doormen[key] = d
	}
	d.refs++
	return d
}

func (r *registry) checkin(d *doorman) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d.refs--
	if d.refs > 0 {
		return
	}
	delete(r.doormen, d.key)
	if len(r.pool) < r.poolSize {
		d.reset()
		r.pool = append(r.pool, d)
	}
}

// Guard is a held lock. Release is safe to call more than once.
type Guard struct {
	registry *registry
	doorman  *doorman
	write    bool
	once     sync.Once
}

// Release gives the lock back and wakes the next waiter, if any.
func (g *Guard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		if g.write {
			g.doorman.unlock()
		} else {
			g.doorman.runlock()
		}
		g.registry.checkin(g.doorman)
	})
}
