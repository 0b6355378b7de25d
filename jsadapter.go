package streambridge

import (
	"context"
	"sync"
)

// jsState is JsAdapter's tagged state: Active, Closed, or Errored. Closed
// and Errored are terminal; no transition leaves them.
type jsState int

const (
	jsActive jsState = iota
	jsClosed
	jsErrored
)

// JsAdapter is the managed-side facade over a native PullSource: it
// exposes read/readAllText/readAllBytes/close/cancel/tryTee to managed
// (JS-side) callers, serializing their requests through a taskQueue so
// that the PullSource — which is exclusively owned — never sees more than
// one request in flight.
//
// Grounded on the jsutil example's readerToReadableStream (a native
// reader exposed as a chunked stream to managed callers), generalized
// from syscall/js to the PullSource/Isolate contracts of this package.
type JsAdapter struct {
	isolate Isolate
	cfg     Config
	queue   *taskQueue
	self    *weakRef

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        jsState
	source       PullSource
	closePending bool
	cancelErr    error
	carry        []byte // unaligned tail held back for element alignment
	drainResult  []byte // scratch slot for readAll's drained bytes
}

// NewJsAdapter creates a JsAdapter Active over source.
func NewJsAdapter(isolate Isolate, source PullSource, cfg Config) *JsAdapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &JsAdapter{
		isolate: isolate,
		cfg:     cfg,
		queue:   &taskQueue{},
		self:    newWeakRef(),
		ctx:     ctx,
		cancel:  cancel,
		state:   jsActive,
		source:  source,
	}
}

// Read implements spec.md §4.1's read(options).
func (a *JsAdapter) Read(ctx context.Context, opts ReadOptions) (ReadResult, error) {
	a.mu.Lock()
	switch {
	case a.state == jsErrored:
		err := a.cancelErr
		a.mu.Unlock()
		return ReadResult{}, err
	case a.state == jsClosed, a.closePending:
		a.mu.Unlock()
		return ReadResult{Buffer: Buffer{ElementSize: opts.Buffer.ElementSize}, Done: true}, nil
	}
	carry := a.carry
	a.carry = nil
	source := a.source
	a.mu.Unlock()

	elementSize := opts.Buffer.ElementSize
	if elementSize < 1 {
		elementSize = 1
	}
	bufSize := opts.Buffer.size()
	minBytes := normalizeMinBytes(opts.MinBytes, elementSize, bufSize)

	dst := opts.Buffer.Data
	start := copy(dst, carry)

	// The carry already installed in dst[:start] counts toward minBytes;
	// the source only needs to make up the remainder.
	sourceMin := minBytes - start
	if sourceMin < 1 {
		sourceMin = 1
	}
	sourceMax := bufSize - start
	if sourceMin > sourceMax {
		sourceMin = sourceMax
	}

	t := newTask(func(taskCtx context.Context) (int, error) {
		res, err := a.isolate.AwaitNative(taskCtx, func(nctx context.Context) (any, error) {
			return source.TryRead(nctx, dst[start:], sourceMin, sourceMax)
		})
		if err != nil {
			return 0, err
		}
		return res.(int), nil
	})

	a.mu.Lock()
	if a.state != jsActive {
		err := a.cancelErr
		a.mu.Unlock()
		if err == nil {
			return ReadResult{Buffer: Buffer{ElementSize: elementSize}, Done: true}, nil
		}
		return ReadResult{}, err
	}
	a.queue.enqueue(a.ctx, t, a.onTaskFail)
	a.mu.Unlock()

	n, err := t.wait(ctx)
	if err != nil {
		return ReadResult{}, err
	}

	produced := start + n
	done := n == 0
	aligned := alignDown(produced, elementSize)
	var newCarry []byte
	if aligned < produced {
		if done {
			// Flush the partial element; there is nothing more to wait for.
			aligned = produced
		} else {
			newCarry = append([]byte(nil), dst[aligned:produced]...)
		}
	}

	a.mu.Lock()
	if a.state == jsActive {
		a.carry = newCarry
	}
	a.mu.Unlock()

	return ReadResult{Buffer: Buffer{Data: dst[:aligned], ElementSize: elementSize}, Done: done}, nil
}

// ReadAllBytes drains the source up to limit bytes (limit <= 0 means
// unbounded) and transitions the adapter to Closed.
func (a *JsAdapter) ReadAllBytes(ctx context.Context, limit int64) ([]byte, error) {
	return a.readAll(ctx, limit)
}

// ReadAllText drains the source like ReadAllBytes and decodes the result
// as a string. limit bounds bytes consumed from the source, not the
// resulting string's character count (spec.md §9).
func (a *JsAdapter) ReadAllText(ctx context.Context, limit int64) (string, error) {
	b, err := a.readAll(ctx, limit)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (a *JsAdapter) readAll(ctx context.Context, limit int64) ([]byte, error) {
	a.mu.Lock()
	switch {
	case a.state == jsErrored:
		err := a.cancelErr
		a.mu.Unlock()
		return nil, err
	case a.state == jsClosed:
		a.mu.Unlock()
		return nil, nil
	case a.closePending:
		a.mu.Unlock()
		return nil, ErrConcurrency("close already pending")
	}
	a.closePending = true
	source := a.source
	a.mu.Unlock()

	t := newTask(func(taskCtx context.Context) (int, error) {
		chunk := make([]byte, 8192)
		buf := make([]byte, 0, 8192)
		for {
			max := len(chunk)
			if limit > 0 {
				remain := limit - int64(len(buf))
				if remain <= 0 {
					break
				}
				if remain < int64(max) {
					max = int(remain)
				}
			}
			res, err := a.isolate.AwaitNative(taskCtx, func(nctx context.Context) (any, error) {
				return source.TryRead(nctx, chunk[:max], 1, max)
			})
			if err != nil {
				return len(buf), err
			}
			n := res.(int)
			if n == 0 {
				break
			}
			buf = append(buf, chunk[:n]...)
		}
		a.mu.Lock()
		a.drainResult = buf
		a.mu.Unlock()
		return len(buf), nil
	})

	a.mu.Lock()
	a.queue.enqueue(a.ctx, t, a.onTaskFail)
	a.mu.Unlock()

	_, err := t.wait(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.state == jsActive {
		a.state = jsClosed
	}
	result := a.drainResult
	a.drainResult = nil
	a.mu.Unlock()
	return result, nil
}

// Close enqueues a zero-byte sentinel that guarantees all prior reads
// drain before transitioning the adapter to Closed.
func (a *JsAdapter) Close(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case jsErrored:
		err := a.cancelErr
		a.mu.Unlock()
		return err
	case jsClosed:
		a.mu.Unlock()
		return nil
	}
	a.closePending = true
	a.mu.Unlock()

	t := newTask(func(taskCtx context.Context) (int, error) { return 0, nil })

	a.mu.Lock()
	a.queue.enqueue(a.ctx, t, a.onTaskFail)
	a.mu.Unlock()

	_, err := t.wait(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	if a.state == jsActive {
		a.state = jsClosed
	}
	a.mu.Unlock()
	return nil
}

// Cancel aborts in-flight work, rejects every queued task with reason,
// abandons the pull source (calling its Cancel unless reason is itself a
// disconnection), and
// transitions the adapter to Errored. Idempotent.
func (a *JsAdapter) Cancel(reason error) {
	if reason == nil {
		reason = ErrDisconnected("canceled")
	}
	a.cancelInternal(reason, false)
}

// Shutdown cancels in-flight work with a disconnection reason and forces
// a transition to Closed rather than Errored.
func (a *JsAdapter) Shutdown() {
	a.cancelInternal(ErrDisconnected("adapter shutdown"), true)
}

func (a *JsAdapter) cancelInternal(reason error, toClosed bool) {
	a.mu.Lock()
	if a.state != jsActive {
		a.mu.Unlock()
		return
	}
	if toClosed {
		a.state = jsClosed
	} else {
		a.cancelErr = reason
		a.state = jsErrored
	}
	source := a.source
	a.source = nil
	a.mu.Unlock()

	a.cancel()
	a.queue.drain(reason)
	if source != nil && !IsKind(reason, KindDisconnection) {
		source.Cancel(reason)
	}
}

func (a *JsAdapter) onTaskFail(err error) {
	a.mu.Lock()
	if a.state == jsActive {
		a.cancelErr = err
		a.state = jsErrored
	}
	a.mu.Unlock()
}

// TryTee fails unless the adapter is strictly idle (no task running, the
// queue empty, and no close pending). On success the source is teed and
// this adapter transitions to Closed.
func (a *JsAdapter) TryTee(limit int64) (branch1, branch2 *JsAdapter, ok bool, err error) {
	a.mu.Lock()
	if a.state == jsErrored {
		err := a.cancelErr
		a.mu.Unlock()
		return nil, nil, false, err
	}
	if a.state != jsActive || a.closePending || !a.queue.idle() {
		a.mu.Unlock()
		return nil, nil, false, ErrConcurrency("tryTee: adapter is not idle")
	}
	source := a.source
	a.mu.Unlock()

	s1, s2, teeOK := source.Tee(limit)
	if !teeOK {
		return nil, nil, false, nil
	}

	a.mu.Lock()
	if a.state == jsActive {
		a.state = jsClosed
		a.source = nil
	}
	a.mu.Unlock()

	return NewJsAdapter(a.isolate, s1, a.cfg), NewJsAdapter(a.isolate, s2, a.cfg), true, nil
}

// TryGetLength delegates to the source when Active; otherwise reports not-ok.
func (a *JsAdapter) TryGetLength(encoding string) (uint64, bool) {
	a.mu.Lock()
	if a.state != jsActive {
		a.mu.Unlock()
		return 0, false
	}
	source := a.source
	a.mu.Unlock()
	return source.TryGetLength(encoding)
}

// IsClosed reports whether the adapter has reached the Closed state.
func (a *JsAdapter) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == jsClosed
}

// IsCanceled reports the stored error if the adapter has reached Errored.
func (a *JsAdapter) IsCanceled() (error, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == jsErrored {
		return a.cancelErr, true
	}
	return nil, false
}

// Release models the adapter's destructor for owners that drop it without
// an explicit Close/Cancel: in-flight work is canceled with a
// disconnection reason and the weak self-reference is invalidated, so any
// continuation still in flight becomes a no-op.
func (a *JsAdapter) Release() {
	a.cancelInternal(ErrDisconnected("adapter dropped"), false)
	a.self.invalidate()
}
