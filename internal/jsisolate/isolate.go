// Package jsisolate is the concrete, quickjs-backed Isolate this module
// ships as reference wiring: a pooled VM that implements
// streambridge.Isolate and a ManagedReader over a small JS shim bundled
// with esbuild. Callers of the streambridge package are never required to
// use it — any Isolate/ManagedReader pair works — but it gives the
// adapters a real managed execution context to run against.
//
// Grounded on cryguy-worker's internal/quickjs pool (one VM per isolate,
// a mutex serializing access to it) and its jobpump.go microtask drain.
package jsisolate

import (
	"context"
	"fmt"
	"sync"

	"modernc.org/quickjs"
)

// Isolate wraps a single QuickJS VM. The mutex models the isolate lock
// spec.md's AwaitNative/AwaitManaged primitives are defined against: at
// most one goroutine may be touching the VM at a time, and managed-side
// work always happens with it held.
type Isolate struct {
	vm *quickjs.VM

	mu sync.Mutex
}

func newIsolate(vm *quickjs.VM) *Isolate {
	return &Isolate{vm: vm}
}

// AwaitNative runs fn off the isolate lock, on whatever goroutine calls
// it. It models crossing from the managed domain into native code: the VM
// is not touched while fn runs.
func (iso *Isolate) AwaitNative(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return fn(ctx)
}

// AwaitManaged acquires the isolate lock, runs fn (which is expected to
// call into the VM), drains any microtasks fn's call left pending, and
// releases the lock before returning.
func (iso *Isolate) AwaitManaged(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	v, err := fn(ctx)
	drainMicrotasks(iso.vm)
	return v, err
}

// AddTask runs fn on its own goroutine, fire-and-forget. fn is
// responsible for acquiring the isolate lock itself (via AwaitManaged) if
// it needs to touch the VM.
func (iso *Isolate) AddTask(fn func()) {
	go fn()
}

// eval runs js as a discarded statement and returns any error QuickJS
// raised. Callers must hold iso.mu (i.e. call only from within
// AwaitManaged or during construction).
func (iso *Isolate) eval(js string) error {
	v, err := iso.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("jsisolate: eval: %w", err)
	}
	v.Free()
	return nil
}
