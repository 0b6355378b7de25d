package streambridge

import (
	"context"
	"sync"
)

// taskOutcome is what a task resolves or rejects with.
type taskOutcome struct {
	n   int
	err error
}

// task is a deferred unit of work producing a byte count, with a one-shot
// result channel that is fulfilled or rejected exactly once.
//
// Grounded on internal/eventloop/eventloop.go's pending-fetch drain loop:
// a goroutine produces a result, the single-threaded consumer picks it up
// on its own schedule.
type task struct {
	run func(ctx context.Context) (int, error)

	once   sync.Once
	result chan taskOutcome
}

func newTask(run func(ctx context.Context) (int, error)) *task {
	return &task{run: run, result: make(chan taskOutcome, 1)}
}

// fulfill resolves or rejects the task. Only the first call has effect.
func (t *task) fulfill(n int, err error) {
	t.once.Do(func() {
		t.result <- taskOutcome{n: n, err: err}
	})
}

// wait blocks until the task settles or ctx is done.
func (t *task) wait(ctx context.Context) (int, error) {
	select {
	case o := <-t.result:
		return o.n, o.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// taskQueue is a FIFO of tasks executed with single-flight discipline: at
// most one task runs at a time, and a failing task terminates the run
// loop — everything still queued stays there until drain rejects it.
//
// Grounded on pool.go's qjsPool (channel-gated single-consumer access) and
// eventloop.go's Drain (single-threaded pop-and-fulfill loop).
type taskQueue struct {
	mu      sync.Mutex
	items   []*task
	running bool
}

// enqueue appends t to the queue, starting the run loop if it is not
// already active. onFail receives the error of the first task whose run
// returns one; the run loop always stops after that, per spec.md §4.1
// ("A failing task ... terminates the loop").
func (q *taskQueue) enqueue(ctx context.Context, t *task, onFail func(error)) {
	q.mu.Lock()
	q.items = append(q.items, t)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.runLoop(ctx, onFail)
	}
}

func (q *taskQueue) runLoop(ctx context.Context, onFail func(error)) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		t := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		n, err := t.run(ctx)
		t.fulfill(n, err)
		if err != nil {
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			onFail(err)
			return
		}
	}
}

// drain rejects every still-queued task with reason and marks the queue
// idle. Tasks already popped and executing are unaffected — their own
// context cancellation is the caller's responsibility.
func (q *taskQueue) drain(reason error) {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.running = false
	q.mu.Unlock()

	for _, t := range items {
		t.fulfill(0, reason)
	}
}

// idle reports whether the queue has nothing queued and nothing running.
func (q *taskQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && !q.running
}
