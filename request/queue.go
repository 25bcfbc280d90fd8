package request

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"

	"github.com/brettbedarf/mediafs/internal/util"
)

// ErrQueueClosed is returned when submitting to a closed [Queue]
var ErrQueueClosed = errors.New("queue closed")

// Queue runs submitted requests in the background. With workers > 0 at most that
// many run at once; with 0 every request gets its own goroutine.
type Queue struct {
	name    string
	ctx     context.Context
	cancel  context.CancelFunc
	pending *fifo[job]
	logger  zerolog.Logger

	lastID   atomic.Uint64
	inFlight *xsync.Map[uint64, *Request] // submitted and not yet finished

	mu     sync.Mutex // guards closed against unbounded spawns
	closed bool
	wg     sync.WaitGroup
}

// NewQueue starts a queue named name with the given worker count
func NewQueue(name string, workers int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:     name,
		ctx:      ctx,
		cancel:   cancel,
		logger:   util.GetLogger("Queue").With().Str("queue", name).Logger(),
		inFlight: xsync.NewMap[uint64, *Request](),
	}
	if workers > 0 {
		q.pending = newFifo[job]()
		for range workers {
			q.wg.Go(q.work)
		}
	}
	q.logger.Debug().Int("workers", workers).Msg("Queue started")
	return q
}

func (q *Queue) Name() string { return q.name }

// Submit schedules r and returns without waiting for it
func (q *Queue) Submit(r *Request) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	id := q.lastID.Add(1)
	q.inFlight.Store(id, r)
	q.logger.Trace().Str("request", r.ID()).Str("url", r.URL()).Msg("Request submitted")

	if q.pending == nil {
		q.wg.Go(func() { q.run(id, r) })
		return nil
	}
	q.pending.push(job{id: id, req: r})
	return nil
}

// job pairs a request with its in-flight registry key
type job struct {
	id  uint64
	req *Request
}

func (q *Queue) work() {
	for {
		j, ok := q.pending.pop()
		if !ok {
			return
		}
		q.run(j.id, j.req)
	}
}

func (q *Queue) run(id uint64, r *Request) {
	defer q.inFlight.Delete(id)
	r.Start(q.ctx)
}

// InFlight returns the number of submitted requests that have not finished
func (q *Queue) InFlight() int {
	return q.inFlight.Size()
}

// CancelAll cancels every pending and running request
func (q *Queue) CancelAll() {
	n := 0
	q.inFlight.Range(func(_ uint64, r *Request) bool {
		r.Cancel()
		n++
		return true
	})
	q.logger.Debug().Int("count", n).Msg("Cancelled in-flight requests")
}

// Close cancels outstanding work, stops accepting new requests and waits for
// the workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.CancelAll()
	q.cancel()
	if q.pending != nil {
		q.pending.close()
	}
	q.wg.Wait()
	q.logger.Debug().Msg("Queue closed")
}
