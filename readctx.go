package streambridge

// readContext is the per-read state object passed along the chained
// managed continuations inside KjAdapter's managed read loop. It holds a
// strong reference to the managed reader so it stays valid for the
// duration of the read even if the adapter is dropped mid-flight,
// while carrying only a weak reference back to the adapter itself.
//
// Grounded on internal/core/reqstate.go's RequestState (a mutable bag of
// state threaded across the Go/JS boundary for the lifetime of one
// request) and the accumulate-across-awaits shape of
// streamReaderToReader.Read in the jsutil example.
type readContext struct {
	reader ManagedReader

	dst      []byte // remaining destination slice; shrinks as it's filled
	total    int    // bytes written into the original destination so far
	minBytes int

	leftover []byte // excess bytes from a chunk larger than dst, if any

	self *weakRef // weak reference to the owning KjAdapter
}

// fillFrom copies as much of data into the context's remaining dst as
// fits, advances dst and total, and returns any unconsumed tail of data.
func (rc *readContext) fillFrom(data []byte) (excess []byte) {
	n := copy(rc.dst, data)
	rc.dst = rc.dst[n:]
	rc.total += n
	if n < len(data) {
		return data[n:]
	}
	return nil
}

// remaining reports how much room is left in dst.
func (rc *readContext) remaining() int {
	return len(rc.dst)
}

// satisfied reports whether minBytes has been met.
func (rc *readContext) satisfied() bool {
	return rc.total >= rc.minBytes
}
