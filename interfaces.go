package streambridge

import "context"

// Chunk is a single unit produced by a ManagedReader.read(). It carries
// either raw bytes or a string; KjAdapter converts either into an owned
// byte slice before it touches the residual buffer. Invalid marks a chunk
// of any other type — a fatal protocol error per spec.md §4.2.
type Chunk struct {
	Bytes   []byte
	IsStr   bool
	Str     string
	Invalid bool
	TypeHint string // diagnostic, used in the protocol-error message
}

// AsBytes returns the chunk's payload as an owned byte slice regardless of
// whether it originated as a string or a binary buffer.
func (c Chunk) AsBytes() []byte {
	if c.IsStr {
		return []byte(c.Str)
	}
	return c.Bytes
}

// PullSource is the native, cold, byte-oriented producer JsAdapter wraps.
// A short read (n < minBytes, in particular n == 0) signals end-of-stream.
// Implementations are never asked for more than maxBytes and must not
// retain dst beyond the call. Honoring minBytes — buffering internally
// until at least minBytes is available, or EOF/error supervenes, rather
// than returning on the first available byte — is part of the source's
// own contract (spec.md §4.1); JsAdapter only computes and forwards it.
type PullSource interface {
	// TryRead fills dst[:n] with between 0 and len(dst) bytes, where
	// len(dst) <= maxBytes. A return of n < minBytes (including n == 0)
	// is end-of-stream.
	TryRead(ctx context.Context, dst []byte, minBytes, maxBytes int) (n int, err error)
	// TryGetLength reports the source's total byte length for the given
	// encoding, if known.
	TryGetLength(encoding string) (length uint64, ok bool)
	// Cancel aborts any in-flight read. If reason indicates a
	// disconnection, implementations should not re-propagate it as a
	// new cancellation of whatever already caused the disconnect.
	Cancel(reason error)
	// Tee splits the source into two independent branches, if supported.
	Tee(limit int64) (branch1, branch2 PullSource, ok bool)
}

// ManagedReader is the hot, chunked reader living inside the managed
// execution context that KjAdapter wraps.
type ManagedReader interface {
	// Read returns the next chunk, or done == true at end-of-stream.
	Read(ctx context.Context) (chunk Chunk, done bool, err error)
	// Cancel must be called while holding the isolate lock.
	Cancel(ctx context.Context, reason error) error
	// TryGetLength reports the underlying managed stream's total byte
	// length for the given encoding, if known.
	TryGetLength(encoding string) (length uint64, ok bool)
}

// Isolate provides the lock, the task pump, and the bridge primitives that
// convert a native call into a managed-side continuation and vice versa.
// AwaitNative runs fn off the isolate lock (on the native scheduler) and
// resumes the caller once fn returns. AwaitManaged acquires the isolate
// lock, runs fn, and releases it before resuming the caller.
type Isolate interface {
	AwaitNative(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
	AwaitManaged(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
	// AddTask enqueues fn as fire-and-forget cleanup work on the isolate's
	// run loop; it does not block the caller. fn returns nothing, so a
	// failure inside it is not reported back to the caller.
	AddTask(fn func())
}

// Sink is the writable sink pumpTo drains a KjAdapter into.
type Sink interface {
	Write(p []byte) (int, error)
	End() error
	Abort(err error) error
}
