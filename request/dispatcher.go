package request

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/brettbedarf/mediafs/internal/util"
)

// Dispatcher runs continuations one at a time, in submission order, on a single
// goroutine. Callbacks sharing a Dispatcher never run concurrently.
type Dispatcher struct {
	tasks  *fifo[func()]
	done   chan struct{}
	once   sync.Once
	logger zerolog.Logger
}

func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		tasks:  newFifo[func()](),
		done:   make(chan struct{}),
		logger: util.GetLogger("Dispatcher"),
	}
	go d.loop()
	return d
}

// Dispatch queues fn. Returns false if the dispatcher is closed.
func (d *Dispatcher) Dispatch(fn func()) bool {
	return d.tasks.push(fn)
}

// Close stops accepting work and waits until already queued work has run
func (d *Dispatcher) Close() {
	d.once.Do(d.tasks.close)
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		fn, ok := d.tasks.pop()
		if !ok {
			return
		}
		d.run(fn)
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("panic", fmt.Sprint(r)).Msg("Callback panicked")
		}
	}()
	fn()
}
