package sink

import (
	"bufio"
	"fmt"
	"io"

	"github.com/noorimat/rabinchunk/internal/rabinerr"
)

const (
	escapeByte    byte = 0xFF
	backrefByte   byte = 0xFE
	varintCont    byte = 0x80
	varintPayload byte = 0x7F
)

// Compressor is the compressor sink (C8): it maintains a
// first-occurrence hash->chunk-index table and emits either the raw
// chunk bytes (escaped with 0xFF if they would otherwise start with
// 0xFE/0xFF) or a back-reference frame (0xFE followed by a
// little-endian base-128 varint with the terminator bit set on the
// last byte).
//
// The table is never deleted from: the compressed stream assumes
// every prior chunk remains reconstructible for the life of the run.
type Compressor struct {
	w       *bufio.Writer
	maxSize uint32
	buf     []byte
	n       uint64
	table   map[uint64]uint64
	size    uint32
}

// NewCompressor builds a compressor sink writing to w. maxSize bounds
// the per-chunk scratch buffer; a chunk larger than maxSize is an
// invariant violation the boundary predicate should have prevented.
func NewCompressor(w io.Writer, maxSize uint32) *Compressor {
	return &Compressor{
		w:       bufio.NewWriter(w),
		maxSize: maxSize,
		buf:     make([]byte, 0, maxSize),
		table:   make(map[uint64]uint64),
	}
}

// ProcessByte implements chunking.Sink.
func (c *Compressor) ProcessByte(b byte) {
	if c.size < c.maxSize {
		c.buf = append(c.buf, b)
	} else {
		panic(fmt.Errorf("%w: compression buffer overflow at size %d", rabinerr.ErrInvariant, c.size))
	}
	c.size++
}

// CompleteChunk implements chunking.Sink.
func (c *Compressor) CompleteChunk(hash, fingerprint uint64) {
	defer func() {
		c.n++
		c.buf = c.buf[:0]
		c.size = 0
	}()

	if len(c.buf) == 0 {
		// trailing empty chunk carries nothing to emit.
		return
	}

	if c.n == 0 {
		if c.buf[0] == backrefByte || c.buf[0] == escapeByte {
			c.writeByte(escapeByte)
		}
		c.write(c.buf)
		c.table[hash] = c.n
		return
	}

	if firstIdx, seen := c.table[hash]; seen {
		c.writeByte(backrefByte)
		c.writeVarint(c.n - firstIdx)
		return
	}

	if c.buf[0] == backrefByte || c.buf[0] == escapeByte {
		c.writeByte(escapeByte)
	}
	c.write(c.buf)
	c.table[hash] = c.n
}

// writeVarint emits delta in little-endian base-128 form, terminator
// bit set on the last byte: while delta>=127 write the low 7 bits with
// the high bit clear, then write the remainder with the high bit set.
func (c *Compressor) writeVarint(delta uint64) {
	for delta >= 127 {
		c.writeByte(byte(delta) & varintPayload)
		delta >>= 7
	}
	c.writeByte(byte(delta) | varintCont)
}

func (c *Compressor) write(p []byte) {
	if _, err := c.w.Write(p); err != nil {
		panic(fmt.Errorf("%w: compressed stream write failed: %v", rabinerr.ErrWrite, err))
	}
}

func (c *Compressor) writeByte(b byte) {
	if err := c.w.WriteByte(b); err != nil {
		panic(fmt.Errorf("%w: compressed stream write failed: %v", rabinerr.ErrWrite, err))
	}
}

// Size implements chunking.Sink.
func (c *Compressor) Size() uint32 {
	return c.size
}

// Close flushes any buffered output. It does not close w.
func (c *Compressor) Close() error {
	return c.w.Flush()
}
