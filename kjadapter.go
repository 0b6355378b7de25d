package streambridge

import (
	"context"
	"sync"
)

// kjState is KjAdapter's tagged state: Active, Closed, or Errored. Closed
// and Errored are terminal; no transition leaves them.
type kjState int

const (
	kjActive kjState = iota
	kjClosed
	kjErrored
)

// KjAdapter is the native-side facade over a managed (JS-side)
// ManagedReader: it exposes tryRead/tryGetLength/cancel/pumpTo to native
// callers, crossing into the managed execution context (under the
// isolate's lock) only when the residual buffer cannot satisfy a read on
// its own.
//
// Grounded on the jsutil example's streamReaderToReader (a managed reader
// exposed as a plain io.Reader to native callers) and tcpsocket.go's
// buffering discipline, generalized from a fixed byte sink to the
// PullSource/ManagedReader contracts of this package.
type KjAdapter struct {
	isolate Isolate
	cfg     Config
	self    *weakRef

	ctx    context.Context
	cancel context.CancelFunc

	mu                  sync.Mutex
	state               kjState
	reader              ManagedReader
	residual            residualBuffer
	readPending         bool
	previousReadWasLast bool
	cancelErr           error
}

// NewKjAdapter creates a KjAdapter Active over reader.
func NewKjAdapter(isolate Isolate, reader ManagedReader, cfg Config) *KjAdapter {
	ctx, cancel := context.WithCancel(context.Background())
	return &KjAdapter{
		isolate: isolate,
		cfg:     cfg,
		self:    newWeakRef(),
		ctx:     ctx,
		cancel:  cancel,
		state:   kjActive,
		reader:  reader,
	}
}

// loopResult is what the managed read loop's AwaitManaged continuation
// resolves with: the total bytes accumulated into dst, and any excess
// bytes from a chunk that overflowed dst (the next residual).
type loopResult struct {
	total    int
	residual []byte
}

// TryRead implements spec.md §4.2's tryRead(dst, minBytes, maxBytes).
func (a *KjAdapter) TryRead(ctx context.Context, dst []byte, minBytes, maxBytes int) (int, error) {
	if maxBytes <= 0 {
		return 0, nil
	}
	if maxBytes > len(dst) {
		maxBytes = len(dst)
	}
	if minBytes < 1 {
		minBytes = 1
	}
	if minBytes > maxBytes {
		minBytes = maxBytes
	}
	dst = dst[:maxBytes]

	a.mu.Lock()
	switch a.state {
	case kjClosed:
		a.mu.Unlock()
		return 0, nil
	case kjErrored:
		err := a.cancelErr
		a.mu.Unlock()
		return 0, err
	}
	if a.readPending {
		a.mu.Unlock()
		return 0, ErrConcurrency("tryRead: a read is already in flight")
	}
	if a.previousReadWasLast {
		a.state = kjClosed
		a.mu.Unlock()
		return 0, nil
	}
	a.readPending = true
	a.mu.Unlock()

	n, err := a.tryReadImpl(ctx, dst, minBytes)

	a.mu.Lock()
	a.readPending = false
	if err != nil {
		if a.state == kjActive {
			// Not already terminal: this read's own failure is the cause.
			// If a concurrent Cancel got here first, its reason (not this
			// read's incidental context-cancellation error) is what sticks.
			a.cancelErr = err
			a.state = kjErrored
			a.reader = nil
			a.residual.set(nil)
		}
		a.mu.Unlock()
		return n, err
	}
	if n < minBytes {
		a.previousReadWasLast = true
		a.reader = nil
		a.residual.set(nil)
	}
	a.mu.Unlock()
	return n, nil
}

// tryReadImpl is the read routine behind TryRead (PumpTo reaches it through
// TryRead). It
// first drains the residual buffer (spec.md §4.2's residual algorithm),
// then — only if that wasn't enough to satisfy minBytes — crosses into the
// managed execution context.
func (a *KjAdapter) tryReadImpl(ctx context.Context, dst []byte, minBytes int) (int, error) {
	full := len(dst)

	a.mu.Lock()
	n := a.residual.take(dst)
	a.mu.Unlock()

	if n == full {
		return n, nil
	}
	total := n
	rest := dst[n:]
	if n > 0 && n >= minBytes {
		return total, nil
	}
	return a.managedReadLoop(ctx, rest, total, minBytes)
}

// managedReadLoop acquires the isolate lock and repeatedly calls
// reader.Read until dst is full, minBytes is met with little room left
// (the residual short-circuit), the reader signals done, or the weak
// self-reference is invalidated out from under it.
func (a *KjAdapter) managedReadLoop(ctx context.Context, dst []byte, total, minBytes int) (int, error) {
	a.mu.Lock()
	reader := a.reader
	a.mu.Unlock()
	if reader == nil {
		return total, nil
	}

	// Tie this read's managed-side context to both the caller's ctx and
	// the adapter's own cancellation, so Cancel(reason) can interrupt a
	// reader.Read call already in flight inside AwaitManaged.
	loopCtx, cancelLoop := context.WithCancel(ctx)
	stop := context.AfterFunc(a.ctx, cancelLoop)
	defer func() { stop(); cancelLoop() }()

	v, err := a.isolate.AwaitManaged(loopCtx, func(mctx context.Context) (any, error) {
		rc := &readContext{reader: reader, dst: dst, total: total, minBytes: minBytes, self: a.self}
		for {
			chunk, done, rerr := reader.Read(mctx)
			if rerr != nil {
				_ = reader.Cancel(mctx, rerr)
				return loopResult{total: rc.total}, rerr
			}
			if chunk.Invalid {
				typeErr := ErrProtocol("managed reader yielded a chunk that was neither bytes nor a string: " + chunk.TypeHint)
				_ = reader.Cancel(mctx, typeErr)
				return loopResult{total: rc.total}, typeErr
			}
			if done {
				return loopResult{total: rc.total}, nil
			}

			data := chunk.AsBytes()
			switch {
			case len(data) == rc.remaining():
				rc.fillFrom(data)
				return loopResult{total: rc.total}, nil
			case len(data) < rc.remaining():
				rc.fillFrom(data)
				if rc.satisfied() && rc.remaining() < a.cfg.ResidualShortCircuit {
					return loopResult{total: rc.total}, nil
				}
				if !rc.self.isValid() || !a.activeSnapshot() {
					return loopResult{total: rc.total}, nil
				}
				continue
			default:
				excess := rc.fillFrom(data)
				return loopResult{total: rc.total, residual: excess}, nil
			}
		}
	})

	lr, _ := v.(loopResult)

	a.mu.Lock()
	if a.state == kjActive {
		a.residual.set(lr.residual)
	}
	a.mu.Unlock()

	if err != nil {
		return lr.total, err
	}
	return lr.total, nil
}

func (a *KjAdapter) activeSnapshot() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == kjActive
}

// TryGetLength delegates to the managed reader when Active; resolves
// previousReadWasLast to Closed first, matching tryRead's entry checks.
func (a *KjAdapter) TryGetLength(encoding string) (uint64, bool) {
	a.mu.Lock()
	switch {
	case a.state == kjErrored:
		a.mu.Unlock()
		return 0, false
	case a.previousReadWasLast:
		a.state = kjClosed
		a.mu.Unlock()
		return 0, false
	case a.state != kjActive:
		a.mu.Unlock()
		return 0, false
	}
	reader := a.reader
	a.mu.Unlock()
	if reader == nil {
		return 0, false
	}
	return reader.TryGetLength(encoding)
}

// Cancel is idempotent. It cancels any in-flight native wait, and — unless
// the last read already observed end-of-stream — schedules a task that
// acquires the isolate lock and calls cancel(reason) on the managed
// reader. Transitions the adapter to Errored.
func (a *KjAdapter) Cancel(reason error) {
	if reason == nil {
		reason = ErrDisconnected("canceled")
	}

	a.mu.Lock()
	if a.state != kjActive {
		a.mu.Unlock()
		return
	}
	a.cancelErr = reason
	a.state = kjErrored
	reader := a.reader
	wasTerminal := a.previousReadWasLast
	a.reader = nil
	a.residual.set(nil)
	a.mu.Unlock()

	a.cancel()

	if reader != nil && !wasTerminal {
		a.isolate.AddTask(func() {
			_, _ = a.isolate.AwaitManaged(context.Background(), func(mctx context.Context) (any, error) {
				return nil, reader.Cancel(mctx, reason)
			})
		})
	}
}

// PumpTo implements spec.md §4.2's pumpTo(sink, end): it calls TryRead (and
// so tryReadImpl, behind TryRead's entry checks) with buffers sized
// [MinReadBytes, MaxReadBytes], writing each result to sink. A read shorter than MinReadBytes is treated as
// exhaustion. Any sink failure aborts the sink, unless the failure was the
// write itself, and always cancels the adapter before propagating.
func (a *KjAdapter) PumpTo(ctx context.Context, sink Sink, end bool) error {
	for {
		buf := make([]byte, a.cfg.MaxReadBytes)
		n, err := a.TryRead(ctx, buf, a.cfg.MinReadBytes, a.cfg.MaxReadBytes)
		if err != nil {
			_ = sink.Abort(err)
			a.Cancel(err)
			return err
		}
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				a.Cancel(werr)
				return werr
			}
		}
		if n < a.cfg.MinReadBytes {
			if end {
				if eerr := sink.End(); eerr != nil {
					_ = sink.Abort(eerr)
					a.Cancel(eerr)
					return eerr
				}
			}
			return nil
		}
	}
}

// IsClosed reports whether the adapter has reached the Closed state.
func (a *KjAdapter) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == kjClosed
}

// IsCanceled reports the stored error if the adapter has reached Errored.
func (a *KjAdapter) IsCanceled() (error, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == kjErrored {
		return a.cancelErr, true
	}
	return nil, false
}

// Release models the adapter's destructor for owners that drop it without
// an explicit cancel: the weak self-reference is invalidated so any
// managed continuation still in flight stops advancing the loop and
// resolves at its next chunk boundary instead of touching a dead adapter.
func (a *KjAdapter) Release() {
	a.Cancel(ErrDisconnected("adapter dropped"))
	a.self.invalidate()
}
