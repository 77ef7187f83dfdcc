// Package chunking implements the chunk-boundary state machine (C3)
// that drives a byte source through the Rabin primitives and a sink,
// and the sink fan-out contract (C4) those sinks implement.
package chunking

import (
	"errors"
	"io"

	"github.com/noorimat/rabinchunk/internal/boundary"
	"github.com/noorimat/rabinchunk/internal/rabin"
)

// ErrBufferOverflow names a sink growing past the predicate's max size
// without the predicate having cut a boundary — an invariant violation
// (spec §7's "invariant" error kind). Driver.Run does not return it:
// the driver makes no size check of its own beyond consulting the
// predicate.
var ErrBufferOverflow = errors.New("chunking: sink grew past max size without a boundary")

// ByteSource supplies bytes to the driver one at a time. ReadByte
// returns io.EOF when the stream is exhausted.
type ByteSource interface {
	ReadByte() (byte, error)
}

// Driver pulls bytes from a ByteSource, feeds both Rabin engines,
// consults a boundary.Predicate, and delivers byte and
// chunk-completion events to a Sink, resetting its rolling state at
// each boundary.
type Driver struct {
	window    rabin.Window
	hash      rabin.Hash
	predicate boundary.Predicate
	sink      Sink
}

// NewDriver constructs a driver ready to run; it primes its own Rabin
// state, so callers do not need to call Reset before Run.
func NewDriver(predicate boundary.Predicate, sink Sink) *Driver {
	d := &Driver{predicate: predicate, sink: sink}
	d.prime()
	return d
}

// prime resets the rolling window and hash, then feeds the sentinel
// byte 1 into the window — defeating the leading-zero degeneracy of
// polynomial hashing at the start of every chunk. The sentinel is not
// counted in chunk size; it belongs to the rolling state, not the
// sink's byte stream.
func (d *Driver) prime() {
	d.window.Reset()
	d.window.Slide8(1)
	d.hash.Reset()
}

// Run drives the source to completion, delivering every byte and
// chunk boundary to the sink. It returns nil on a clean EOF and any
// other error from the source unchanged.
func (d *Driver) Run(src ByteSource) error {
	for {
		b, err := src.ReadByte()
		if err == io.EOF {
			hash := d.hash.Digest()
			fp := d.window.Fingerprint()
			d.sink.CompleteChunk(hash, fp)
			return nil
		}
		if err != nil {
			return err
		}

		d.sink.ProcessByte(b)
		hash := d.hash.Append8(b)
		fp := d.window.Slide8(b)

		size := d.sink.Size()
		if d.predicate.IsBoundary(fp, size) {
			d.sink.CompleteChunk(hash, fp)
			d.prime()
		}
	}
}
