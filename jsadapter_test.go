package streambridge

import (
	"bytes"
	"context"
	"testing"
)

func TestJsAdapterShortReadIsEOF(t *testing.T) {
	src := &fakeSource{reads: [][]byte{[]byte("hello")}}
	a := NewJsAdapter(&fakeIsolate{}, src, DefaultConfig())

	buf := make([]byte, 16)
	res, err := a.Read(context.Background(), ReadOptions{Buffer: Buffer{Data: buf, ElementSize: 1}, MinBytes: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Done || !bytes.Equal(res.Buffer.Data, []byte("hello")) {
		t.Fatalf("unexpected first read result: %+v", res)
	}

	buf2 := make([]byte, 16)
	res2, err := a.Read(context.Background(), ReadOptions{Buffer: Buffer{Data: buf2, ElementSize: 1}, MinBytes: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res2.Done || len(res2.Buffer.Data) != 0 {
		t.Fatalf("expected a done, empty second read, got %+v", res2)
	}
}

// TestJsAdapterElementAlignment exercises the literal "element alignment
// rounding" scenario: reads whose produced byte count isn't a multiple of
// ElementSize hold the tail back as carry, prepended to the next read.
func TestJsAdapterElementAlignment(t *testing.T) {
	src := &fakeSource{reads: [][]byte{
		[]byte{1, 2, 3, 4, 5, 6},    // 6 bytes, not a multiple of 4
		[]byte{7, 8, 9, 10},        // 4 bytes
		nil,                        // EOF
	}}
	a := NewJsAdapter(&fakeIsolate{}, src, DefaultConfig())
	const elemSize = 4

	// First read: 6 bytes produced, 4 flushed (one element), 2 carried.
	buf1 := make([]byte, 8)
	res1, err := a.Read(context.Background(), ReadOptions{Buffer: Buffer{Data: buf1, ElementSize: elemSize}, MinBytes: elemSize})
	if err != nil {
		t.Fatalf("read 1: %v", err)
	}
	if !bytes.Equal(res1.Buffer.Data, []byte{1, 2, 3, 4}) {
		t.Fatalf("read 1: expected first 4 bytes aligned, got %v", res1.Buffer.Data)
	}
	if res1.Done {
		t.Fatalf("read 1: unexpected done")
	}

	// Second read: carry (5,6) + new 4 bytes (7,8,9,10) = 6 bytes produced,
	// 4 flushed, 2 carried again.
	buf2 := make([]byte, 8)
	res2, err := a.Read(context.Background(), ReadOptions{Buffer: Buffer{Data: buf2, ElementSize: elemSize}, MinBytes: elemSize})
	if err != nil {
		t.Fatalf("read 2: %v", err)
	}
	if !bytes.Equal(res2.Buffer.Data, []byte{5, 6, 7, 8}) {
		t.Fatalf("read 2: expected carry+new bytes aligned, got %v", res2.Buffer.Data)
	}

	// Third read: source is at EOF; the remaining carry (9,10) is flushed
	// unaligned since there is nothing left to wait for.
	buf3 := make([]byte, 8)
	res3, err := a.Read(context.Background(), ReadOptions{Buffer: Buffer{Data: buf3, ElementSize: elemSize}, MinBytes: elemSize})
	if err != nil {
		t.Fatalf("read 3: %v", err)
	}
	if !res3.Done || !bytes.Equal(res3.Buffer.Data, []byte{9, 10}) {
		t.Fatalf("read 3: expected partial flush {9,10} done=true, got %+v", res3)
	}
}

func TestJsAdapterTryTeeRefusedWhileBusy(t *testing.T) {
	a := NewJsAdapter(&fakeIsolate{}, &fakeSource{}, DefaultConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	busy := newTask(func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	a.queue.enqueue(a.ctx, busy, a.onTaskFail)
	<-started

	if _, _, ok, err := a.TryTee(-1); ok || err == nil {
		t.Fatalf("expected tryTee to be refused while a task is in flight, got ok=%v err=%v", ok, err)
	}

	close(release)
	busy.wait(context.Background())

	if !a.queue.idle() {
		t.Fatalf("queue should be idle after the busy task completes")
	}
}

func TestJsAdapterCancelDuringRead(t *testing.T) {
	started := make(chan struct{})
	src := &fakeSource{reads: [][]byte{[]byte("hello")}, started: started, block: make(chan struct{})}
	a := NewJsAdapter(&fakeIsolate{}, src, DefaultConfig())

	resultErr := make(chan error, 1)
	go func() {
		_, err := a.Read(context.Background(), ReadOptions{Buffer: Buffer{Data: make([]byte, 16), ElementSize: 1}, MinBytes: 1})
		resultErr <- err
	}()

	<-started
	reason := ErrPeer("peer reset", nil)
	a.Cancel(reason)

	if err := <-resultErr; err == nil {
		t.Fatalf("expected the in-flight read to fail once canceled")
	}

	gotErr, canceled := a.IsCanceled()
	if !canceled || !IsKind(gotErr, KindPeer) {
		t.Fatalf("expected adapter to be Errored with the peer reason, got %v canceled=%v", gotErr, canceled)
	}

	// Cancel is idempotent: a second call must not overwrite the reason.
	a.Cancel(ErrDisconnected("again"))
	gotErr2, _ := a.IsCanceled()
	if gotErr2 != gotErr {
		t.Fatalf("cancel should be idempotent, reason changed from %v to %v", gotErr, gotErr2)
	}
}

func TestJsAdapterTerminalStickiness(t *testing.T) {
	a := NewJsAdapter(&fakeIsolate{}, &fakeSource{}, DefaultConfig())
	a.Cancel(ErrDisconnected("gone"))

	if _, err := a.Read(context.Background(), ReadOptions{Buffer: Buffer{Data: make([]byte, 4), ElementSize: 1}, MinBytes: 1}); err == nil {
		t.Fatalf("expected read on an Errored adapter to fail")
	}
	if _, ok := a.TryGetLength("bytes"); ok {
		t.Fatalf("tryGetLength should report not-ok once Errored")
	}
}
