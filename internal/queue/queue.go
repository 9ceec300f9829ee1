// Package queue implements the bounded-concurrency work queue (SPEC_FULL.md
// §4.3): a fixed-width fan-out over a channel of capacity N, so at most N
// items are queued and at most N are in flight, bounding resident work to
// 2N — the system's one and only backpressure mechanism. Grounded on the
// teacher's internal/llm/ratelimit.go WorkerPool/ParallelProcess pair,
// generalized from an ad hoc fan-out helper into a reusable, generic,
// reply-channel-based queue.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/elevatelaw/prompt-scaler/internal/logger"
	"github.com/elevatelaw/prompt-scaler/internal/work"
)

// ErrQueueClosed is returned by Submit/SubmitAndWait once the queue has
// been closed; per §4.3 this is a fatal error to the caller.
var ErrQueueClosed = errors.New("queue: submission channel closed")

// WorkFunc resolves one input into an output. It must not panic in a way
// that should poison the queue; panics are recovered per-item by the
// worker pool and converted into a Failed output (§5 panic policy).
type WorkFunc[I, O any] func(ctx context.Context, input work.WorkInput[I]) work.WorkOutput[O]

type item[I, O any] struct {
	ctx   context.Context
	input work.WorkInput[I]
	reply chan work.WorkOutput[O]
}

// Queue is the background fan-out pool. Construct with New; obtain
// submission capability via Handle.
type Queue[I, O any] struct {
	ch     chan item[I, O]
	wg     sync.WaitGroup
	log    logger.Logger
	closed chan struct{}
	once   sync.Once
}

// New spawns the worker pool and returns the queue plus a ready-to-use
// Handle. N is both the channel capacity and the concurrency ceiling.
func New[I, O any](n int, workFn WorkFunc[I, O], log logger.Logger) (*Queue[I, O], *Handle[I, O]) {
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	q := &Queue[I, O]{
		ch:     make(chan item[I, O], n),
		log:    log,
		closed: make(chan struct{}),
	}

	sem := make(chan struct{}, n)
	go func() {
		for {
			// Take a concurrency slot before receiving the next item, so an
			// item leaves the channel only when a worker can start it.
			sem <- struct{}{}
			it, ok := <-q.ch
			if !ok {
				break
			}
			q.wg.Add(1)
			go func(it item[I, O]) {
				defer q.wg.Done()
				defer func() { <-sem }()
				out := q.runSafely(it, workFn)
				select {
				case it.reply <- out:
				case <-it.ctx.Done():
					q.log.Debug("queue: discarding result for id %s, receiver gone: %v", string(it.input.ID), it.ctx.Err())
				}
			}(it)
		}
		q.wg.Wait()
		close(q.closed)
	}()

	return q, &Handle[I, O]{queue: q}
}

// runSafely invokes workFn, recovering any panic and converting it into a
// Failed output so one misbehaving item never poisons the queue.
func (q *Queue[I, O]) runSafely(it item[I, O], workFn WorkFunc[I, O]) (out work.WorkOutput[O]) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("queue: recovered panic processing id %s: %v", string(it.input.ID), r)
			out = work.Failed[O](it.input.ID, []string{"internal error: worker panicked"})
		}
	}()
	return workFn(it.ctx, it.input)
}

// Close signals that no further items will be submitted. The background
// pool drains in-flight items and exits; Wait blocks until it has.
func (q *Queue[I, O]) Close() {
	q.once.Do(func() { close(q.ch) })
}

// Wait blocks until the worker pool has drained and exited, the Go
// analogue of JoinHandle::join — any panic was already recovered and
// turned into output statuses, so Wait never itself returns an error.
func (q *Queue[I, O]) Wait() {
	<-q.closed
}

// Handle is the concurrency-safe submission side of a Queue. Multiple
// goroutines may share one Handle.
type Handle[I, O any] struct {
	queue *Queue[I, O]
}

// StreamOpts configures ProcessStream's ordering behavior.
type StreamOpts struct {
	// AllowReorder, when true, yields outputs in completion order instead
	// of input order.
	AllowReorder bool
}

// Submit enqueues an item and returns its reply channel once there is
// room in the queue (this is where backpressure materializes: the call
// blocks until the bounded channel has capacity). Returns ErrQueueClosed
// if the queue has been closed, or ctx.Err() if ctx is done first.
func (h *Handle[I, O]) Submit(ctx context.Context, input work.WorkInput[I]) (replyCh <-chan work.WorkOutput[O], err error) {
	// A send on the channel after Close panics; report it as ErrQueueClosed.
	defer func() {
		if recover() != nil {
			replyCh, err = nil, ErrQueueClosed
		}
	}()
	reply := make(chan work.WorkOutput[O], 1)
	it := item[I, O]{ctx: ctx, input: input, reply: reply}

	select {
	case h.queue.ch <- it:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.queue.closed:
		return nil, ErrQueueClosed
	}
}

// SubmitAndWait submits input and blocks until its output is ready; the
// only operation on Handle that suspends until completion rather than
// merely until queue space is available.
func (h *Handle[I, O]) SubmitAndWait(ctx context.Context, input work.WorkInput[I]) (work.WorkOutput[O], error) {
	reply, err := h.Submit(ctx, input)
	if err != nil {
		var zero work.WorkOutput[O]
		return zero, err
	}
	select {
	case out := <-reply:
		return out, nil
	case <-ctx.Done():
		var zero work.WorkOutput[O]
		return zero, ctx.Err()
	}
}

// ProcessStream submits every input read from inputs and returns a
// channel of corresponding outputs. By default (AllowReorder=false)
// outputs are yielded in input order; AllowReorder=true yields them in
// completion order instead, per §5's ordering guarantees.
func (h *Handle[I, O]) ProcessStream(ctx context.Context, inputs <-chan work.WorkInput[I], opts StreamOpts) <-chan work.WorkOutput[O] {
	out := make(chan work.WorkOutput[O])
	go func() {
		defer close(out)
		if opts.AllowReorder {
			h.processUnordered(ctx, inputs, out)
		} else {
			h.processOrdered(ctx, inputs, out)
		}
	}()
	return out
}

func (h *Handle[I, O]) processOrdered(ctx context.Context, inputs <-chan work.WorkInput[I], out chan<- work.WorkOutput[O]) {
	// The bounded Submit channel (capacity N) is the real backpressure
	// mechanism; this intermediate channel of pending reply-channels only
	// exists to preserve input order while letting submission run ahead
	// of a slow output consumer.
	replies := make(chan (<-chan work.WorkOutput[O]), cap(h.queue.ch))
	go func() {
		defer close(replies)
		for {
			select {
			case in, ok := <-inputs:
				if !ok {
					return
				}
				reply, err := h.Submit(ctx, in)
				if err != nil {
					immediate := make(chan work.WorkOutput[O], 1)
					immediate <- work.Failed[O](in.ID, []string{err.Error()})
					close(immediate)
					reply = immediate
				}
				select {
				case replies <- reply:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	for reply := range replies {
		select {
		case o := <-reply:
			out <- o
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handle[I, O]) processUnordered(ctx context.Context, inputs <-chan work.WorkInput[I], out chan<- work.WorkOutput[O]) {
	var wg sync.WaitGroup
	for in := range inputs {
		reply, err := h.Submit(ctx, in)
		if err != nil {
			out <- work.Failed[O](in.ID, []string{err.Error()})
			continue
		}
		wg.Add(1)
		go func(reply <-chan work.WorkOutput[O]) {
			defer wg.Done()
			select {
			case o := <-reply:
				out <- o
			case <-ctx.Done():
			}
		}(reply)
	}
	wg.Wait()
}
