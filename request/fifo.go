package request

import "sync"

// fifo is an unbounded blocking queue. Push never blocks so submitters stay
// fire-and-forget regardless of how busy the consumers are.
type fifo[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newFifo[T any]() *fifo[T] {
	f := &fifo[T]{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// push appends v. Returns false once closed.
func (f *fifo[T]) push(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.items = append(f.items, v)
	f.cond.Signal()
	return true
}

// pop blocks until an item is available. ok is false when closed and drained.
func (f *fifo[T]) pop() (v T, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.items) == 0 && !f.closed {
		f.cond.Wait()
	}
	if len(f.items) == 0 {
		return v, false
	}
	v = f.items[0]
	var zero T
	f.items[0] = zero
	f.items = f.items[1:]
	return v, true
}

// close stops accepting items; consumers drain what is left
func (f *fifo[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.cond.Broadcast()
}

func (f *fifo[T]) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
