package sink

import (
	"fmt"
	"io"
)

// Print emits one line per chunk, matching the original's
// "<prefix> chunk hash: <16hex> fingerprint: <16hex> length: <n>".
type Print struct {
	w      io.Writer
	prefix string
	size   uint32
}

// NewPrint builds a print sink writing to w. prefix mirrors the
// original's "Found"-style message prefix.
func NewPrint(w io.Writer, prefix string) *Print {
	return &Print{w: w, prefix: prefix}
}

// ProcessByte implements chunking.Sink.
func (p *Print) ProcessByte(b byte) {
	p.size++
}

// CompleteChunk implements chunking.Sink.
func (p *Print) CompleteChunk(hash, fingerprint uint64) {
	fmt.Fprintf(p.w, "%s chunk hash: %016x fingerprint: %016x length: %d\n",
		p.prefix, hash, fingerprint, p.size)
	p.size = 0
}

// Size implements chunking.Sink.
func (p *Print) Size() uint32 {
	return p.size
}
