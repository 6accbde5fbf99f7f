package runtime

// Prime sends ev straight to the consumer channel, ahead of anything queued.
// Only call it while the queue is paused and the channel buffer has room,
// e.g. to hand a new subscriber the current value before live events flow.
func (sq *SubQueue[T]) Prime(ev T) {
	sq.outCh <- ev
}
