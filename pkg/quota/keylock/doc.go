/*
Package keylock provides per-key asynchronous reader/writer locks.

Each key gets its own lock state, created on first use and dropped once
no goroutine holds or waits on it. Idle states are pooled for reuse, up
to Config.PoolSize.

Basic usage:

	locks := keylock.New()

	guard, err := locks.Lock(ctx, key)
	if err != nil {
		return err // ctx ended while queued; nothing is held
	}
	defer guard.Release()

Writers are admitted in FIFO order. Readers share the lock and queue
behind any pending writer. A caller whose context ends while queued
gives up its place without affecting the others; if the lock was
granted at the same moment, it is released on the caller's behalf.
*/
package keylock
