/*
Package watch implements a single-producer, latest-value-wins channel.
Receivers are notified that a newer value exists and read it on demand,
so consecutive sends collapse into the most recent one.
*/
package watch

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned when sending on a closed watch.
	ErrClosed = errors.New("watch closed")
)

// Channel holds the latest value and the version it was published at.
type Channel[T any] struct {
	lock    sync.Mutex
	value   T
	version uint64
	changed chan struct{} // closed and replaced on every send
	closed  bool
}

// New creates a watch holding the initial value at version 0.
func New[T any](initial T) *Channel[T] {
	return &Channel[T]{
		value:   initial,
		changed: make(chan struct{}),
	}
}

// Send publishes a new value and wakes all receivers.
func (c *Channel[T]) Send(v T) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.value = v
	c.version++
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

// Borrow returns the latest value.
func (c *Channel[T]) Borrow() T {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.value
}

// Close stops the watch. Receivers observe the close as a change.
func (c *Channel[T]) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.changed)
}

// Subscribe returns a receiver that has seen the current value.
func (c *Channel[T]) Subscribe() *Receiver[T] {
	c.lock.Lock()
	defer c.lock.Unlock()
	return &Receiver[T]{ch: c, seen: c.version}
}

// Receiver tracks which version of the watch it has observed.
// A Receiver must be used by a single goroutine.
type Receiver[T any] struct {
	ch   *Channel[T]
	seen uint64
}

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Changed returns a channel that is ready once a value newer than the last
// one marked seen exists, or once the watch is closed.
func (r *Receiver[T]) Changed() <-chan struct{} {
	r.ch.lock.Lock()
	defer r.ch.lock.Unlock()
	if r.ch.closed || r.ch.version > r.seen {
		return closedCh
	}
	return r.ch.changed
}

// Borrow returns the latest value without marking it seen.
func (r *Receiver[T]) Borrow() T {
	return r.ch.Borrow()
}

// BorrowAndUpdate returns the latest value and marks it seen.
func (r *Receiver[T]) BorrowAndUpdate() T {
	r.ch.lock.Lock()
	defer r.ch.lock.Unlock()
	r.seen = r.ch.version
	return r.ch.value
}

// Closed reports whether the watch has been closed.
func (r *Receiver[T]) Closed() bool {
	r.ch.lock.Lock()
	defer r.ch.lock.Unlock()
	return r.ch.closed
}
