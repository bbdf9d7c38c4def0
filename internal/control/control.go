// Package control serialises requests from the HTTP and MQTT goroutines onto
// the control loop. Requests are applied between ticks, never mid-tick, and
// each one is applied to the engine as a unit.
package control

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/sweeney/irrigation-controller/internal/logic"
)

// ErrQueueClosed is returned when the control loop has stopped accepting requests.
var ErrQueueClosed = errors.New("control: queue closed")

// Func mutates the engine. nowMs is the loop's monotonic millisecond counter
// at the time the request is applied.
type Func func(e *logic.Engine, nowMs uint32) error

// Request states. A request moves from pending to exactly one of applied or
// abandoned, so a submitter that gives up never sees its request run.
const (
	statePending int32 = iota
	stateApplied
	stateAbandoned
)

type request struct {
	name  string
	fn    Func
	reply chan error
	state atomic.Int32
}

// Queue is a bounded request queue with synchronous replies.
type Queue struct {
	ch   chan *request
	done chan struct{}
}

// NewQueue creates a queue holding up to size pending requests.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{
		ch:   make(chan *request, size),
		done: make(chan struct{}),
	}
}

// Submit enqueues fn and waits for the loop to apply it. It returns the
// error from fn, ErrQueueClosed, or the context error. When it returns
// ErrQueueClosed or a context error, fn has not run and never will.
func (q *Queue) Submit(ctx context.Context, name string, fn Func) error {
	req := &request{name: name, fn: fn, reply: make(chan error, 1)}
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- req:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-q.done:
		return q.abandon(req, ErrQueueClosed)
	case <-ctx.Done():
		return q.abandon(req, ctx.Err())
	}
}

// abandon withdraws a queued request. If the loop has already claimed it,
// the request runs to completion and its real result is returned instead.
func (q *Queue) abandon(req *request, err error) error {
	if req.state.CompareAndSwap(statePending, stateAbandoned) {
		return err
	}
	return <-req.reply
}

// Applied describes one request applied by Drain.
type Applied struct {
	Name string
	Err  error
}

// Drain applies every pending request in arrival order without blocking.
// Requests abandoned by their submitter are dropped.
func (q *Queue) Drain(e *logic.Engine, nowMs uint32) []Applied {
	var out []Applied
	for {
		select {
		case req := <-q.ch:
			if !req.state.CompareAndSwap(statePending, stateApplied) {
				continue
			}
			err := req.fn(e, nowMs)
			req.reply <- err
			out = append(out, Applied{Name: req.name, Err: err})
		default:
			return out
		}
	}
}

// Len returns the number of requests waiting to be applied.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting requests. Pending and future submitters get
// ErrQueueClosed. Close must be called once, from the loop side.
func (q *Queue) Close() {
	close(q.done)
}
