/*
Package processor increments rate-limit counters atomically.

Three backends are available:

  - InMemory: counters in a process-local store, one lock per key
  - DistributedCache: counters in a shared store such as Redis; updates
    are serialized per key within this process
  - AtomicBackend: a Redis Lua script increments the counter and sets its
    expiry in one step, so concurrent instances never lose an update

Usage:

	p, err := processor.New(processor.AtomicBackend, processor.Config{
		Redis: redisClient,
	})
	if err != nil {
		return err
	}
	counter, err := p.Process(ctx, key, rule)

Each request adds the value returned by Config.Incrementer, 1 by default.
A counter whose window has elapsed starts over at that value.

The atomic backend stores one key per window, suffixed with the window
start in Unix milliseconds. Windows are aligned to the epoch, so the
reported counter timestamp is floor(now/period)*period.
*/
package processor
