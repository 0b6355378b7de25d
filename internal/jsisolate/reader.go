package jsisolate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cryguy/streambridge"
	"modernc.org/quickjs"
)

// readResultJSON mirrors the shape managedReaderShimJS's read() wrapper
// produces.
type readResultJSON struct {
	Done    bool   `json:"done"`
	Bytes   string `json:"bytes"`
	Str     string `json:"str"`
	Invalid string `json:"invalid"`
}

// Reader implements streambridge.ManagedReader by calling into the
// globalThis.__streamBridgeReader object a worker script installed via
// managedReaderShimJS. Its Read/Cancel/TryGetLength methods assume the
// caller already holds the owning Isolate's lock — they are meant to run
// from inside an Isolate.AwaitManaged continuation, never standalone.
//
// Grounded on the jsutil example's streamReaderToReader: a Go type that
// is a thin, synchronous call-through to a managed-side reader object,
// here adapted from syscall/js's Call to quickjs's Eval.
type Reader struct {
	iso *Isolate
}

// NewReader wraps iso's currently-installed __streamBridgeReader. iso
// must already have evaluated a script calling
// __installStreamBridgeReader before this is used.
func NewReader(iso *Isolate) *Reader {
	return &Reader{iso: iso}
}

func (r *Reader) Read(ctx context.Context) (streambridge.Chunk, bool, error) {
	raw, err := r.iso.vm.Eval(`JSON.stringify(globalThis.__streamBridgeReader.read())`, quickjs.EvalGlobal)
	if err != nil {
		return streambridge.Chunk{}, false, fmt.Errorf("jsisolate: reader.read: %w", err)
	}
	s, ok := raw.(string)
	if !ok {
		return streambridge.Chunk{}, false, fmt.Errorf("jsisolate: reader.read: unexpected eval result %T", raw)
	}
	var res readResultJSON
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return streambridge.Chunk{}, false, fmt.Errorf("jsisolate: reader.read: decoding result: %w", err)
	}
	if res.Done {
		return streambridge.Chunk{}, true, nil
	}
	if res.Invalid != "" {
		return streambridge.Chunk{Invalid: true, TypeHint: res.Invalid}, false, nil
	}
	if res.Bytes != "" {
		data, err := base64.StdEncoding.DecodeString(res.Bytes)
		if err != nil {
			return streambridge.Chunk{}, false, fmt.Errorf("jsisolate: reader.read: invalid base64: %w", err)
		}
		return streambridge.Chunk{Bytes: data}, false, nil
	}
	return streambridge.Chunk{IsStr: true, Str: res.Str}, false, nil
}

func (r *Reader) Cancel(ctx context.Context, reason error) error {
	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	js := fmt.Sprintf(`globalThis.__streamBridgeReader.cancel(%q)`, msg)
	if err := r.iso.eval(js); err != nil {
		return fmt.Errorf("jsisolate: reader.cancel: %w", err)
	}
	return nil
}

// TryGetLength has no general JS-side counterpart in the minimal shim
// contract (the managed reader is not required to know its own length
// up front), so this reports unknown.
func (r *Reader) TryGetLength(string) (uint64, bool) {
	return 0, false
}
