package jsisolate

import (
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

// drainMicrotasks runs every pending QuickJS microtask (the continuations
// chained off whatever Promise the managed reader's read()/cancel() just
// settled). modernc.org/quickjs never calls JS_ExecutePendingJob itself, so
// without this a managed-side .then() would simply never fire and
// AwaitManaged would return a still-pending Promise object.
//
// Grounded on cryguy-worker's jobpump.go: the same unsafe-reflection
// extraction of the VM's unexported runtime/tls fields to call
// XJS_ExecutePendingJob directly.
func drainMicrotasks(vm *quickjs.VM) int {
	rt, tls, ok := extractRuntime(vm)
	if !ok {
		return 0
	}
	count := 0
	for {
		ret := lib.XJS_ExecutePendingJob(tls, rt, 0)
		if ret <= 0 {
			break
		}
		count++
	}
	return count
}

// extractRuntime pulls the unexported cRuntime/tls fields out of a
// *quickjs.VM via reflection. See cryguy-worker's jobpump.go for the VM
// struct layout this depends on (modernc.org/quickjs@v0.17.1).
func extractRuntime(vm *quickjs.VM) (cRuntime uintptr, tls *libc.TLS, ok bool) {
	vmVal := reflect.ValueOf(vm).Elem()

	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}
	rtPtr := unsafe.Pointer(rtField.Pointer())
	rtVal := reflect.NewAt(rtField.Type().Elem(), rtPtr).Elem()

	cRuntimeField := rtVal.FieldByName("cRuntime")
	if !cRuntimeField.IsValid() {
		return 0, nil, false
	}
	cRuntime = uintptr(cRuntimeField.Uint())

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return 0, nil, false
	}
	tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))

	return cRuntime, tls, true
}
