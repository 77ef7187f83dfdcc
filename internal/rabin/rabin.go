// Package rabin implements the two Rabin polynomial primitives used
// for content-defined chunking: a rolling-window fingerprint over the
// last WindowSize bytes, and a full-chunk content hash. Both are pure
// functions of Poly and WindowSize, so two implementations that agree
// on those constants produce byte-identical tables and digests.
package rabin

// Poly is the fixed irreducible polynomial over GF(2) used by both
// the rolling window and the chunk hash. Any implementation agreeing
// on this value (and WindowSize) is bit-compatible.
//
// Poly is a monic degree-64 polynomial with an implicit leading x^64
// term: the 64-bit constant below holds the coefficients of x^63
// down to x^0, and x^64 itself is understood to reduce to Poly (the
// classic LBFS/rabinpoly convention). A digest is always a full
// 64-bit value — never fewer bits just because Poly's own top bit
// happens to be set — so its top byte is always bits 56-63.
const Poly uint64 = 0xBFE6B8A5BF378D83

// WindowSize is the width, in bytes, of the rolling fingerprint
// window.
const WindowSize = 48

// Sentinel is the value a chunk hash accumulator is reset to at the
// start of every chunk, instead of 0, to avoid the degeneracy where
// leading zero bytes are invisible to a polynomial hash.
const Sentinel uint64 = 1

// polShift is fixed at 56, independent of Poly's bit pattern: per
// Poly's monic-degree-64 convention above, a digest always occupies
// the full 64-bit register, so its top byte is always digest>>56.
const polShift = 56

var (
	outTable [256]uint64
	modTable [256]uint64
)

func init() {
	calcTables()
}

// calcTables derives modTable (the reduction table used to fold the
// top byte back in after an 8-bit left shift) and outTable (the
// window's byte-leaving-scope table) once at process start. Both are
// 256-entry tables, pure functions of Poly and WindowSize.
func calcTables() {
	calcModTable()

	for b := 0; b < 256; b++ {
		h := appendByte(0, byte(b))
		for i := 0; i < WindowSize-1; i++ {
			h = appendByte(h, 0)
		}
		outTable[b] = h
	}
}

// calcModTable builds modTable[b]: the correction to XOR in when a
// byte b occupied the top 8 bits of a digest (bits 56-63) just before
// an 8-bit left shift truncated those bits out of the 64-bit register.
// Left-shifting moves that byte's bits from degrees 56-63 to 64-71;
// since Poly's implicit leading term makes x^64 reduce to Poly itself
// mod the (conceptual) 65-bit modulus (1<<64)|Poly, repeated
// multiplication by x gives x^64, x^65, ..., x^71 each reduced to a
// plain 64-bit value, and modTable[b] is the XOR of whichever of those
// powers correspond to a set bit of b.
func calcModTable() {
	var xpow [8]uint64
	xpow[0] = Poly // x^64 mod ((1<<64)|Poly) == Poly, since x^64 == Poly in that field.
	for j := 1; j < 8; j++ {
		r := xpow[j-1]
		carry := r >> 63
		r <<= 1
		if carry != 0 {
			r ^= Poly
		}
		xpow[j] = r
	}

	for b := 0; b < 256; b++ {
		var v uint64
		for j := 0; j < 8; j++ {
			if b&(1<<uint(j)) != 0 {
				v ^= xpow[j]
			}
		}
		modTable[b] = v
	}
}

// appendByte folds one byte into h the same way Hash.Append8 and
// Window.Slide8 do inline: ((h << 8) | b) XOR modTable[h >> 56]. Used
// by calcTables to build outTable, so the window's byte-leaving-scope
// cancellation (out_table[b] XORed against a live digest) stays a
// valid inverse of this exact operation.
func appendByte(h uint64, b byte) uint64 {
	index := h >> polShift
	h <<= 8
	h |= uint64(b)
	h ^= modTable[index]
	return h
}

// Hash is the full-chunk content accumulator (C1's append8 engine).
// The zero value is not ready to use; call Reset before folding bytes.
type Hash struct {
	digest uint64
}

// Reset sets the accumulator to the sentinel value, never zero.
func (h *Hash) Reset() {
	h.digest = Sentinel
}

// Append8 folds one byte into the accumulator and returns the new
// digest: ((h << 8) | b) XOR T[h >> 56].
func (h *Hash) Append8(b byte) uint64 {
	index := h.digest >> polShift
	h.digest <<= 8
	h.digest |= uint64(b)
	h.digest ^= modTable[index]
	return h.digest
}

// Digest returns the current accumulator value without mutating it.
func (h *Hash) Digest() uint64 {
	return h.digest
}

// Window is the rolling-window fingerprint engine (C1's slide8
// engine). The zero value's buffer is all zero and ready to use.
type Window struct {
	buf  [WindowSize]byte
	pos  int
	fp   uint64
}

// Reset zeros the circular buffer, the cursor, and the fingerprint.
func (w *Window) Reset() {
	for i := range w.buf {
		w.buf[i] = 0
	}
	w.pos = 0
	w.fp = 0
}

// Slide8 advances the window by one byte, removing the byte that
// falls out of scope, and returns the new fingerprint.
func (w *Window) Slide8(b byte) uint64 {
	out := w.buf[w.pos]
	w.buf[w.pos] = b
	w.fp ^= outTable[out]
	w.pos = (w.pos + 1) % WindowSize

	index := w.fp >> polShift
	w.fp <<= 8
	w.fp |= uint64(b)
	w.fp ^= modTable[index]

	return w.fp
}

// Fingerprint returns the current rolling fingerprint without
// mutating the window.
func (w *Window) Fingerprint() uint64 {
	return w.fp
}
