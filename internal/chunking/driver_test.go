package chunking

import (
	"bytes"
	"testing"

	"github.com/noorimat/rabinchunk/internal/boundary"
)

// recorder is a minimal Sink that records every byte and chunk
// completion it observes, for asserting on driver behavior directly.
type recorder struct {
	bytes      []byte
	chunks     [][]byte
	hashes     []uint64
	fps        []uint64
	cur        []byte
}

func (r *recorder) ProcessByte(b byte) {
	r.bytes = append(r.bytes, b)
	r.cur = append(r.cur, b)
}

func (r *recorder) CompleteChunk(hash, fp uint64) {
	r.chunks = append(r.chunks, r.cur)
	r.hashes = append(r.hashes, hash)
	r.fps = append(r.fps, fp)
	r.cur = nil
}

func (r *recorder) Size() uint32 {
	return uint32(len(r.cur))
}

func byteReader(s string) *byteSliceSource {
	return &byteSliceSource{r: bytes.NewReader([]byte(s))}
}

type byteSliceSource struct {
	r *bytes.Reader
}

func (s *byteSliceSource) ReadByte() (byte, error) {
	return s.r.ReadByte()
}

func TestDriverEmitsFinalChunkOnEOF(t *testing.T) {
	rec := &recorder{}
	// A predicate that never fires on content, so the whole input is
	// one chunk delivered only by the unconditional EOF completion.
	pred := boundary.Specified{Bits: 32, Min: 0, Max: 0, Marker: 0xDEADBEEF}

	d := NewDriver(pred, rec)
	if err := d.Run(byteReader("hello, world")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(rec.chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(rec.chunks))
	}
	if string(rec.chunks[0]) != "hello, world" {
		t.Fatalf("chunk bytes = %q, want %q", rec.chunks[0], "hello, world")
	}
}

func TestDriverCutsAtMaxSize(t *testing.T) {
	rec := &recorder{}
	pred := boundary.Specified{Bits: 8, Min: 0, Max: 4, Marker: 0xDEADBEEF}

	d := NewDriver(pred, rec)
	if err := d.Run(byteReader("abcdefghij")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// 10 bytes, cuts every 4: [abcd][efgh][ij]
	want := []string{"abcd", "efgh", "ij"}
	if len(rec.chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d: %v", len(rec.chunks), len(want), rec.chunks)
	}
	for i, w := range want {
		if string(rec.chunks[i]) != w {
			t.Errorf("chunk %d = %q, want %q", i, rec.chunks[i], w)
		}
	}
}

func TestDriverSinkObservesReconstructibleHash(t *testing.T) {
	rec := &recorder{}
	pred := boundary.Specified{Bits: 8, Min: 0, Max: 1, Marker: 0xDEADBEEF}

	d := NewDriver(pred, rec)
	if err := d.Run(byteReader("A")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Max: 1 cuts a boundary right after 'A'; the driver's unconditional
	// EOF completion then delivers a second, empty chunk.
	if len(rec.chunks) != 2 || string(rec.chunks[0]) != "A" || len(rec.chunks[1]) != 0 {
		t.Fatalf("chunks = %v, want chunk \"A\" followed by an empty EOF completion", rec.chunks)
	}

	// Literal expected hash/fingerprint for priming with sentinel byte
	// 1 followed by 'A' (0x41), computed independently of both the
	// driver and internal/rabin (brute-force GF(2) reduction against
	// the monic degree-64 modulus (1<<64)|Poly) rather than by calling
	// back into the package under test (spec.md S1).
	const wantHash = uint64(0x141)
	const wantFP = uint64(0x141)

	if rec.hashes[0] != wantHash {
		t.Errorf("hash = %#x, want %#x", rec.hashes[0], wantHash)
	}
	if rec.fps[0] != wantFP {
		t.Errorf("fingerprint = %#x, want %#x", rec.fps[0], wantFP)
	}
}

func TestCompositeForwardsInRegistrationOrder(t *testing.T) {
	var order []string
	mk := func(name string) Sink {
		return &orderSink{name: name, order: &order}
	}

	c := NewComposite(mk("a"), mk("b"))
	c.Add(mk("c"))

	c.ProcessByte('x')
	c.CompleteChunk(0, 0)

	want := []string{"a:byte", "b:byte", "c:byte", "a:complete", "b:complete", "c:complete"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

type orderSink struct {
	name  string
	order *[]string
	size  uint32
}

func (o *orderSink) ProcessByte(b byte) {
	o.size++
	*o.order = append(*o.order, o.name+":byte")
}

func (o *orderSink) CompleteChunk(hash, fp uint64) {
	*o.order = append(*o.order, o.name+":complete")
	o.size = 0
}

func (o *orderSink) Size() uint32 {
	return o.size
}
