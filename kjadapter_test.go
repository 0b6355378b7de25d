package streambridge

import (
	"bytes"
	"context"
	"testing"
)

// TestKjAdapterChunkLargerThanBuffer exercises a chunk that overflows the
// destination buffer: the excess becomes residual, served from
// subsequent tryReads before the managed reader is touched again.
func TestKjAdapterChunkLargerThanBuffer(t *testing.T) {
	reader := &fakeReader{chunks: []Chunk{{Bytes: []byte("ABCDEFGH")}}}
	a := NewKjAdapter(&fakeIsolate{}, reader, DefaultConfig())

	dst1 := make([]byte, 4)
	n, err := a.TryRead(context.Background(), dst1, 4, 4)
	if err != nil || n != 4 || !bytes.Equal(dst1[:n], []byte("ABCD")) {
		t.Fatalf("read 1: n=%d err=%v data=%q", n, err, dst1[:n])
	}

	dst2 := make([]byte, 2)
	n, err = a.TryRead(context.Background(), dst2, 1, 2)
	if err != nil || n != 2 || !bytes.Equal(dst2[:n], []byte("EF")) {
		t.Fatalf("read 2 (residual, fully covers): n=%d err=%v data=%q", n, err, dst2[:n])
	}

	dst3 := make([]byte, 4)
	n, err = a.TryRead(context.Background(), dst3, 1, 4)
	if err != nil || n != 2 || !bytes.Equal(dst3[:n], []byte("GH")) {
		t.Fatalf("read 3 (residual, partial, meets minBytes): n=%d err=%v data=%q", n, err, dst3[:n])
	}

	// Residual now drained; the managed reader has nothing left either.
	dst4 := make([]byte, 4)
	n, err = a.TryRead(context.Background(), dst4, 1, 4)
	if err != nil || n != 0 {
		t.Fatalf("read 4 (short read = last): n=%d err=%v", n, err)
	}
	if a.IsClosed() {
		t.Fatalf("short read should defer Closed to the next entry point")
	}

	dst5 := make([]byte, 4)
	n, err = a.TryRead(context.Background(), dst5, 1, 4)
	if err != nil || n != 0 {
		t.Fatalf("read 5: n=%d err=%v", n, err)
	}
	if !a.IsClosed() {
		t.Fatalf("expected adapter to be Closed on the entry point after a short read")
	}
}

// TestKjAdapterResidualShortCircuit exercises the managed read loop's
// early-exit heuristic: once minBytes is met and what's left of dst falls
// below ResidualShortCircuit, tryRead returns without pulling another
// chunk to top off the buffer, even though more room and more data both
// exist.
func TestKjAdapterResidualShortCircuit(t *testing.T) {
	reader := &fakeReader{chunks: []Chunk{
		{Bytes: []byte("ABCDEF")}, // 6 bytes
		{Bytes: []byte("GHIJ")},   // 4 bytes
	}}
	cfg := Config{MinReadBytes: 1, MaxReadBytes: 16, ResidualShortCircuit: 5}
	a := NewKjAdapter(&fakeIsolate{}, reader, cfg)

	dst1 := make([]byte, 10)
	n, err := a.TryRead(context.Background(), dst1, 2, 10)
	if err != nil || n != 6 || !bytes.Equal(dst1[:n], []byte("ABCDEF")) {
		t.Fatalf("read 1: expected a short-circuited 6-byte read, got n=%d err=%v data=%q", n, err, dst1[:n])
	}

	dst2 := make([]byte, 10)
	n, err = a.TryRead(context.Background(), dst2, 1, 10)
	if err != nil || n != 4 || !bytes.Equal(dst2[:n], []byte("GHIJ")) {
		t.Fatalf("read 2: expected the second chunk untouched by read 1, got n=%d err=%v data=%q", n, err, dst2[:n])
	}
}

func TestKjAdapterProtocolError(t *testing.T) {
	reader := &fakeReader{chunks: []Chunk{{Invalid: true, TypeHint: "number"}}}
	a := NewKjAdapter(&fakeIsolate{}, reader, DefaultConfig())

	dst := make([]byte, 8)
	_, err := a.TryRead(context.Background(), dst, 1, 8)
	if err == nil || !IsKind(err, KindProtocol) {
		t.Fatalf("expected a protocol error, got %v", err)
	}
	if !reader.canceled {
		t.Fatalf("expected the managed reader to be canceled on a protocol error")
	}

	_, err2 := a.TryRead(context.Background(), dst, 1, 8)
	if err2 != err {
		t.Fatalf("expected the same stored error on a subsequent tryRead, got %v", err2)
	}

	// cancel on an already-Errored adapter is a no-op.
	a.Cancel(ErrDisconnected("too late"))
	if _, canceled := a.IsCanceled(); !canceled {
		t.Fatalf("adapter should remain Errored")
	}
}

func TestKjAdapterCancelDuringRead(t *testing.T) {
	started := make(chan struct{})
	reader := &fakeReader{chunks: []Chunk{{Bytes: []byte("hello")}}, started: started, block: make(chan struct{})}
	a := NewKjAdapter(&fakeIsolate{}, reader, DefaultConfig())

	resultErr := make(chan error, 1)
	go func() {
		_, err := a.TryRead(context.Background(), make([]byte, 8), 8, 8)
		resultErr <- err
	}()

	<-started
	a.Cancel(ErrPeer("peer reset", nil))

	if err := <-resultErr; err == nil {
		t.Fatalf("expected the in-flight read to fail once canceled")
	}
	if gotErr, canceled := a.IsCanceled(); !canceled || !IsKind(gotErr, KindPeer) {
		t.Fatalf("expected adapter Errored with the peer reason, got %v canceled=%v", gotErr, canceled)
	}
}

func TestKjAdapterPumpTo(t *testing.T) {
	reader := &fakeReader{chunks: []Chunk{{Bytes: []byte("payload")}}}
	cfg := Config{MinReadBytes: 1, MaxReadBytes: 16, ResidualShortCircuit: 1}
	a := NewKjAdapter(&fakeIsolate{}, reader, cfg)

	sink := &fakeSink{}
	if err := a.PumpTo(context.Background(), sink, true); err != nil {
		t.Fatalf("pumpTo: %v", err)
	}
	if !bytes.Equal(sink.written, []byte("payload")) {
		t.Fatalf("expected sink to receive the full payload, got %q", sink.written)
	}
	if !sink.ended {
		t.Fatalf("expected sink.End to be called")
	}
	if sink.aborted {
		t.Fatalf("sink should not be aborted on a clean pump")
	}
}

type fakeSink struct {
	written []byte
	ended   bool
	aborted bool
	abortErr error
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.written = append(s.written, p...)
	return len(p), nil
}

func (s *fakeSink) End() error {
	s.ended = true
	return nil
}

func (s *fakeSink) Abort(err error) error {
	s.aborted = true
	s.abortErr = err
	return nil
}
