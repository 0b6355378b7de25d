package jsisolate

import (
	"github.com/evanw/esbuild/pkg/api"
)

// managedReaderShimJS is the minimal JS-side contract a worker script
// plugs a real reader into. __installStreamBridgeReader(impl) takes a
// plain {read, cancel} object — impl.read() synchronously returns a
// {done, value} result, cancel(reason) performs whatever teardown the
// managed side needs — and exposes it as globalThis.__streamBridgeReader,
// whose read() normalizes each result to {done} or {bytes: b64} or
// {str: "..."} or {invalid: typeof-string}, the shape Reader.Read and
// Reader.Cancel expect.
//
// This mirrors cryguy-worker's pattern of keeping the actual stream
// machinery in JS (see tcpsocket.go's tcpSocketJS) and exposing only a
// thin, base64-safe call surface to Go.
const managedReaderShimJS = `
(function() {
	globalThis.__installStreamBridgeReader = function(impl) {
		globalThis.__streamBridgeReader = {
			read: function() {
				var r = impl.read();
				if (r == null || r.done) return { done: true };
				if (typeof r.value === 'string') return { done: false, str: r.value };
				if (r.value instanceof Uint8Array || r.value instanceof ArrayBuffer) {
					var bytes = r.value instanceof ArrayBuffer ? new Uint8Array(r.value) : r.value;
					var binary = '';
					for (var i = 0; i < bytes.length; i++) binary += String.fromCharCode(bytes[i]);
					return { done: false, bytes: btoa(binary) };
				}
				return { done: false, invalid: typeof r.value };
			},
			cancel: function(reason) {
				if (typeof impl.cancel === 'function') impl.cancel(reason);
			}
		};
	};
})();
`

// bundleShim runs esbuild's Transform over extra (the worker-supplied
// script that calls __installStreamBridgeReader) so ES module syntax is
// usable there too, then prepends the shim itself. Grounded on
// cryguy-worker's pool.go wrapESModule: esbuild as an AST-aware
// preprocessor rather than a hand-rolled source transform.
func bundleShim(extra string) (shim string, script string) {
	result := api.Transform(extra, api.TransformOptions{
		Format: api.FormatIIFE,
		Target: api.ESNext,
	})
	if len(result.Errors) > 0 {
		return managedReaderShimJS, extra
	}
	return managedReaderShimJS, string(result.Code)
}
