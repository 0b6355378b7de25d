package jsisolate

import (
	"fmt"

	"modernc.org/quickjs"
)

// Pool is a fixed-size pool of pre-warmed Isolates, each loaded with the
// same managed-reader script.
//
// Grounded on cryguy-worker's pool.go qjsPool: a buffered channel used as
// a semaphore-plus-free-list, workers created up front rather than
// on-demand.
type Pool struct {
	isolates chan *Isolate
	size     int
}

// NewPool creates size Isolates. workerScript is the caller-supplied
// script (ES module syntax allowed) that calls
// __installStreamBridgeReader to wire up a real reader; it is bundled
// through esbuild and loaded into each VM after the shim itself.
func NewPool(size int, workerScript string, memoryLimitMB int) (*Pool, error) {
	shimSource, scriptSource := bundleShim(workerScript)

	p := &Pool{isolates: make(chan *Isolate, size), size: size}
	for i := 0; i < size; i++ {
		iso, err := newWorkerIsolate(shimSource, scriptSource, memoryLimitMB)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("jsisolate: creating pool member %d: %w", i, err)
		}
		p.isolates <- iso
	}
	return p, nil
}

func newWorkerIsolate(shimSource, scriptSource string, memoryLimitMB int) (*Isolate, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if memoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(memoryLimitMB) * 1024 * 1024)
	}

	iso := newIsolate(vm)
	if err := iso.eval(shimSource); err != nil {
		vm.Close()
		return nil, fmt.Errorf("loading managed-reader shim: %w", err)
	}
	if scriptSource != "" {
		if err := iso.eval(scriptSource); err != nil {
			vm.Close()
			return nil, fmt.Errorf("loading worker script: %w", err)
		}
	}
	return iso, nil
}

// Acquire blocks until an Isolate is available.
func (p *Pool) Acquire() (*Isolate, error) {
	iso, ok := <-p.isolates
	if !ok {
		return nil, fmt.Errorf("jsisolate: pool is closed")
	}
	return iso, nil
}

// Release returns iso to the pool.
func (p *Pool) Release(iso *Isolate) {
	select {
	case p.isolates <- iso:
	default:
		// Pool already full (shouldn't happen with correct acquire/release
		// pairing); dispose rather than leak the slot.
		iso.vm.Close()
	}
}

// Close tears down every pooled Isolate's VM.
func (p *Pool) Close() {
	for {
		select {
		case iso := <-p.isolates:
			iso.vm.Close()
		default:
			return
		}
	}
}
