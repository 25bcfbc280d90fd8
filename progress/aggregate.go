// Package progress tracks a fixed number of independent units of work that can
// be cancelled together.
package progress

import (
	"sync"
)

// Canceler is a unit of work that can be stopped, i.e. *request.Request
type Canceler interface {
	Cancel()
}

// Aggregate counts completed units against a fixed total. Cancelling it cancels
// every attached child. It is done once all units complete or it is cancelled.
type Aggregate struct {
	total int

	mu        sync.Mutex
	completed int
	cancelled bool
	children  []Canceler
	done      chan struct{}
}

// NewAggregate tracks total units. A total of 0 is finished immediately.
func NewAggregate(total int) *Aggregate {
	a := &Aggregate{
		total: max(total, 0),
		done:  make(chan struct{}),
	}
	if a.total == 0 {
		close(a.done)
	}
	return a
}

// Add attaches a child to cancel with the aggregate. A child added after
// cancellation is cancelled right away.
func (a *Aggregate) Add(c Canceler) {
	a.mu.Lock()
	if !a.cancelled {
		a.children = append(a.children, c)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	c.Cancel()
}

// Complete records one finished unit and reports whether it was the last.
// Units beyond the total are ignored.
func (a *Aggregate) Complete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.completed >= a.total {
		return false
	}
	a.completed++
	if a.completed == a.total && !a.cancelled {
		close(a.done)
		return true
	}
	return false
}

// Cancel stops every child. Idempotent.
func (a *Aggregate) Cancel() {
	a.mu.Lock()
	if a.cancelled || a.isFinished() {
		a.mu.Unlock()
		return
	}
	a.cancelled = true
	children := a.children
	a.children = nil
	close(a.done)
	a.mu.Unlock()

	for _, c := range children {
		c.Cancel()
	}
}

func (a *Aggregate) IsCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

// IsFinished reports whether every unit completed before any cancellation
func (a *Aggregate) IsFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isFinished()
}

func (a *Aggregate) isFinished() bool {
	return !a.cancelled && a.completed == a.total
}

// Done is closed when the aggregate finishes or is cancelled
func (a *Aggregate) Done() <-chan struct{} {
	return a.done
}

func (a *Aggregate) Total() int { return a.total }

func (a *Aggregate) Completed() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.completed
}

// Fraction is the completed share in [0, 1]
func (a *Aggregate) Fraction() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.total == 0 {
		return 1
	}
	return float64(a.completed) / float64(a.total)
}
