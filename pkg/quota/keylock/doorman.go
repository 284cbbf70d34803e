package keylock

import "sync"

// doorman is the reader/writer lock state of one key.
//
// status is 0 when free, -1 while a writer holds the lock, and the number
// of active readers otherwise. Writers wait in FIFO order; all pending
// readers share one waiter and are admitted together.
type doorman struct {
	key  string
	refs int // guarded by registry.mu

	mu             sync.Mutex
	status         int
	writers        []*waiter
	readers        *waiter
	readersWaiting int
}

// waiter represents a goroutine waiting for the lock
type waiter struct {
	ready   chan struct{} // closed when the lock is granted
	granted bool
}

func newWaiter() *waiter {
	return &waiter{ready: make(chan struct{})}
}

func (w *waiter) grant() {
	w.granted = true
	close(w.ready)
}

// lock takes the write lock, or returns a waiter to block on.
func (d *doorman) lock() *waiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == 0 {
		d.status = -1
		return nil
	}
	w := newWaiter()
	d.writers = append(d.writers, w)
	return w
}

// rlock takes a read lock, or returns the shared reader waiter.
func (d *doorman) rlock() *waiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status >= 0 && len(d.writers) == 0 {
		d.status++
		return nil
	}
	if d.readers == nil {
		d.readers = newWaiter()
	}
	d.readersWaiting++
	return d.readers
}

func (d *doorman) unlock() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.status = 0
	d.wake()
}

func (d *doorman) runlock() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.status--
	if d.status == 0 {
		d.wake()
	}
}

// abandonWrite withdraws a canceled writer. If the lock was granted in
// the meantime it is released on the writer's behalf.
func (d *doorman) abandonWrite(w *waiter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w.granted {
		d.status = 0
		d.wake()
		return
	}
	for i, queued := range d.writers {
		if queued == w {
			copy(d.writers[i:], d.writers[i+1:])
			d.writers[len(d.writers)-1] = nil
			d.writers = d.writers[:len(d.writers)-1]
			break
		}
	}
	// Readers queued only because of this writer can go now.
	if len(d.writers) == 0 && d.status >= 0 {
		d.wakeReaders()
	}
}

// abandonRead withdraws a canceled reader, releasing its share if the
// readers were admitted concurrently.
func (d *doorman) abandonRead(w *waiter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if w.granted {
		d.status--
		if d.status == 0 {
			d.wake()
		}
		return
	}
	d.readersWaiting--
	if d.readersWaiting == 0 {
		d.readers = nil
	}
}

// wake hands a free lock to the next writer, or failing that to all
// pending readers. Must be called with d.mu held.
func (d *doorman) wake() {
	if d.status != 0 {
		return
	}
	if len(d.writers) > 0 {
		w := d.writers[0]
		d.writers[0] = nil
		d.writers = d.writers[1:]
		d.status = -1
		w.grant()
		return
	}
	d.wakeReaders()
}

// wakeReaders admits every pending reader. Must be called with d.mu held.
func (d *doorman) wakeReaders() {
	if d.readers == nil {
		return
	}
	d.status += d.readersWaiting
	d.readersWaiting = 0
	d.readers.grant()
	d.readers = nil
}

func (d *doorman) reset() {
	d.key = ""
	d.status = 0
	d.writers = nil
	d.readers = nil
	d.readersWaiting = 0
}
