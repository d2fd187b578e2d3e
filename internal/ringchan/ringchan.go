// Package ringchan provides a bounded channel that never blocks producers.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Channel is a bounded buffer with overwrite-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded. Consumers read from C() like from any Go channel.
//
//	rc := ringchan.New[int](3)
//	for i := 0; i < 10; i++ {
//	    rc.Send(i)
//	}
//	rc.Close()
//	for v := range rc.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
//
// Send and Close may be called concurrently; values sent after Close are dropped.
type Channel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	written atomic.Int64
	dropped atomic.Int64
}

// New creates a Channel with the given capacity.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Channel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (rc *Channel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered value if the buffer is full.
// It reports whether a value was discarded.
func (rc *Channel[T]) Send(v T) (dropped bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.closed {
		rc.dropped.Add(1)
		return true
	}

	for {
		select {
		case rc.ch <- v:
			rc.written.Add(1)
			return dropped
		default:
		}
		// Full: drop oldest. A consumer may have drained it meanwhile, so loop.
		select {
		case <-rc.ch:
			rc.dropped.Add(1)
			dropped = true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (rc *Channel[T]) Len() int {
	return len(rc.ch)
}

// Cap returns the channel capacity.
func (rc *Channel[T]) Cap() int {
	return cap(rc.ch)
}

// Close closes the receive side. It is safe to call more than once.
func (rc *Channel[T]) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.closed {
		rc.closed = true
		close(rc.ch)
	}
}

// Stats returns how many values were delivered into the buffer and how many
// were discarded.
func (rc *Channel[T]) Stats() (written, dropped int64) {
	return rc.written.Load(), rc.dropped.Load()
}
