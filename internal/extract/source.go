// Package extract implements the extractor (C9) and its two byte
// sources (C10): a raw file source for plain chunking runs, and a
// dual source that switches between the compressed input stream and
// the output file being reconstructed, for resolving back-references.
package extract

import (
	"bufio"
	"errors"
	"io"
)

// RawSource reads bytes from a single underlying reader, e.g. the
// input file during ordinary (non-extract) chunking.
type RawSource struct {
	r *bufio.Reader
}

// NewRawSource wraps r.
func NewRawSource(r io.Reader) *RawSource {
	return &RawSource{r: bufio.NewReader(r)}
}

// ReadByte implements chunking.ByteSource.
func (s *RawSource) ReadByte() (byte, error) {
	return s.r.ReadByte()
}

const (
	backrefByte byte = 0xFE
	escapeByte  byte = 0xFF
)

// DualSource is the extractor's byte source: in literal mode it reads
// the compressed input stream; in replay mode it reads previously
// written output bytes starting at a recorded chunk offset.
//
// Grounded on original_source/src/rabincmd.C's ExtractDataSource,
// translated from a single fpos_t/fsetpos-juggled file handle into two
// independent readers, since out is accessed through io.ReaderAt
// rather than a shared seek cursor (see internal/extract/extractor.go
// for why no "resume position" bookkeeping is needed here).
type DualSource struct {
	in        *bufio.Reader
	out       io.ReaderAt
	outPos    int64
	replaying bool
}

// NewDualSource builds a dual source reading control bytes and literal
// data from in, and replaying back-referenced chunks from out.
func NewDualSource(in io.Reader, out io.ReaderAt) *DualSource {
	return &DualSource{in: bufio.NewReader(in), out: out}
}

// StartReplay switches the source into replay mode, reading forward
// from pos in the output file.
func (d *DualSource) StartReplay(pos int64) {
	d.replaying = true
	d.outPos = pos
}

// StopReplay switches the source back to literal mode.
func (d *DualSource) StopReplay() {
	d.replaying = false
}

// ReadByte implements chunking.ByteSource, reading from whichever
// source is currently active.
func (d *DualSource) ReadByte() (byte, error) {
	if d.replaying {
		var buf [1]byte
		n, err := d.out.ReadAt(buf[:], d.outPos)
		if n == 1 {
			d.outPos++
			return buf[0], nil
		}
		return 0, err
	}
	return d.in.ReadByte()
}

// PeekControl inspects the next byte of the input stream without
// consuming it, unless it is a control byte (0xFE or 0xFF), in which
// case it is consumed and returned. A zero return with a nil error
// means "ordinary literal byte, still unread, stay in literal mode".
func (d *DualSource) PeekControl() (byte, error) {
	peek, err := d.in.Peek(1)
	if err != nil {
		return 0, err
	}
	switch peek[0] {
	case backrefByte, escapeByte:
		b, _ := d.in.ReadByte()
		return b, nil
	default:
		return 0, nil
	}
}

// ReadVarint decodes a little-endian base-128 varint with an MSB
// terminator bit directly from the input stream (never from replay
// mode: the varint is part of the control protocol, not chunk data).
func (d *DualSource) ReadVarint() (uint64, error) {
	var delta uint64
	var shift uint
	for {
		b, err := d.in.ReadByte()
		if err != nil {
			return 0, err
		}
		delta |= uint64(b&0x7F) << shift
		if b&0x80 != 0 {
			return delta, nil
		}
		shift += 7
		if shift > 63 {
			return 0, errors.New("extract: varint too long")
		}
	}
}
