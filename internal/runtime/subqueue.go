package runtime

import (
	"sync"
)

// SubQueue decouples a producer from a slow consumer. Producers never block:
// events are appended to an in-memory queue and a dispatcher goroutine moves
// them to the consumer channel. With a non-zero limit the oldest queued
// events are dropped once the queue is full.
type SubQueue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	limit   int
	dropped int
	closed  bool

	outCh  chan T // consumer reads from this
	done   chan struct{}
	paused bool // gate dispatch until the consumer is ready
}

// NewSubQueue creates an unbounded queue that starts paused.
func NewSubQueue[T any](outBuf int) *SubQueue[T] {
	return NewBoundedSubQueue[T](outBuf, 0)
}

// NewBoundedSubQueue creates a queue holding at most limit undelivered
// events. A limit of zero means unbounded. The queue starts paused.
func NewBoundedSubQueue[T any](outBuf, limit int) *SubQueue[T] {
	sq := &SubQueue[T]{
		outCh:  make(chan T, outBuf),
		done:   make(chan struct{}),
		limit:  limit,
		paused: true,
	}
	sq.cond = sync.NewCond(&sq.mu)
	go sq.dispatch()
	return sq
}

// Chan is the channel exposed to the consumer. It is closed after Close.
func (sq *SubQueue[T]) Chan() <-chan T { return sq.outCh }

// Enqueue appends to the queue and wakes the dispatcher. It reports false if
// the queue is closed.
func (sq *SubQueue[T]) Enqueue(ev T) bool {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return false
	}
	if sq.limit > 0 && len(sq.queue) >= sq.limit {
		sq.queue = sq.queue[1:]
		sq.dropped++
	}
	sq.queue = append(sq.queue, ev)
	sq.cond.Signal()
	return true
}

// Dropped returns how many events were discarded because the queue was full.
func (sq *SubQueue[T]) Dropped() int {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.dropped
}

// SetPaused gates dispatching.
func (sq *SubQueue[T]) SetPaused(v bool) {
	sq.mu.Lock()
	sq.paused = v
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

// Close stops the dispatcher and closes the out channel. Undelivered events
// are discarded.
func (sq *SubQueue[T]) Close() {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return
	}
	sq.closed = true
	sq.queue = nil
	close(sq.done)
	sq.cond.Broadcast()
}

func (sq *SubQueue[T]) dispatch() {
	for {
		sq.mu.Lock()
		for !sq.closed && (sq.paused || len(sq.queue) == 0) {
			sq.cond.Wait()
		}
		if sq.closed {
			sq.mu.Unlock()
			close(sq.outCh)
			return
		}
		ev := sq.queue[0]
		var zero T
		sq.queue[0] = zero
		sq.queue = sq.queue[1:]
		sq.mu.Unlock()

		// Blocks only on the channel buffer / reader, or until Close.
		select {
		case sq.outCh <- ev:
		case <-sq.done:
			close(sq.outCh)
			return
		}
	}
}
