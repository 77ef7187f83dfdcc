package extract

import (
	"fmt"
	"io"

	"github.com/noorimat/rabinchunk/internal/boundary"
	"github.com/noorimat/rabinchunk/internal/rabin"
	"github.com/noorimat/rabinchunk/internal/rabinerr"
)

// Extractor is the extractor (C9): it drives the same boundary
// predicate and Rabin state used to compress a stream, but over the
// bytes it is itself writing, so that a back-reference frame can be
// resolved purely from chunk start offsets already seen in this run.
//
// Because out is addressed with WriteAt/ReadAt rather than a single
// seek cursor, there is no "save the resume position, seek away, seek
// back" dance: the write cursor (e.Extractor.writePos) and the replay
// read cursor (inside DualSource) are independent the whole time.
type Extractor struct {
	window rabin.Window
	hash   rabin.Hash
	pred   boundary.Predicate

	src *DualSource
	out io.WriterAt

	writePos       int64
	chunkPositions []int64
}

// NewExtractor builds an extractor reading a compressed stream from in
// and reconstructing it into out. pred MUST be the identical predicate
// used to produce in; a mismatched predicate produces silent garbage,
// not a detected error.
func NewExtractor(pred boundary.Predicate, in io.Reader, out interface {
	io.WriterAt
	io.ReaderAt
}) *Extractor {
	return &Extractor{
		pred: pred,
		src:  NewDualSource(in, out),
		out:  out,
	}
}

func (e *Extractor) prime() {
	e.window.Reset()
	e.window.Slide8(1)
	e.hash.Reset()
}

// Run reconstructs the original stream into out, returning nil once
// the compressed input is exhausted at a chunk boundary.
func (e *Extractor) Run() error {
	for {
		chunkStart := e.writePos

		ctrl, err := e.src.PeekControl()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", rabinerr.ErrFormat, err)
		}

		if ctrl == backrefByte {
			delta, err := e.src.ReadVarint()
			if err != nil {
				return fmt.Errorf("%w: truncated back-reference varint: %v", rabinerr.ErrFormat, err)
			}
			cur := int64(len(e.chunkPositions))
			target := cur - int64(delta)
			if target < 0 || target >= cur {
				return fmt.Errorf("%w: back-reference delta %d out of range at chunk %d", rabinerr.ErrFormat, delta, cur)
			}
			e.src.StartReplay(e.chunkPositions[target])
		}
		// ctrl == escapeByte: already consumed by PeekControl, stream
		// stays in literal mode for the data that follows.
		// ctrl == 0: ordinary literal byte, left unread.

		e.prime()
		var size uint32
		for {
			b, rerr := e.src.ReadByte()
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return fmt.Errorf("%w: %v", rabinerr.ErrFormat, rerr)
			}

			if _, werr := e.out.WriteAt([]byte{b}, e.writePos); werr != nil {
				return fmt.Errorf("%w: %v", rabinerr.ErrWrite, werr)
			}
			e.writePos++
			size++

			hash := e.hash.Append8(b)
			fp := e.window.Slide8(b)
			if e.pred.IsBoundary(fp, size) {
				_ = hash
				break
			}
		}

		e.chunkPositions = append(e.chunkPositions, chunkStart)
		e.src.StopReplay()
	}
}
