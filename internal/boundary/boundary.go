// Package boundary implements the chunk-boundary predicates consulted
// by the chunking driver after every byte: given the current rolling
// fingerprint and the number of bytes accepted into the in-progress
// chunk, should this chunk end here?
package boundary

import "github.com/noorimat/rabinchunk/internal/rabin"

// Predicate decides whether the chunk currently being built should
// end at this byte.
type Predicate interface {
	IsBoundary(fp uint64, size uint32) bool
}

// Bitwise is the default predicate: a boundary occurs when the low
// Bits bits of the fingerprint are all zero, subject to a minimum size
// guard, or unconditionally once the chunk reaches MaxSize.
//
// MinSize and MaxSize are derived from Bits, not independently
// configurable, which is what distinguishes this from Specified.
type Bitwise struct {
	Bits uint
}

// Mask returns (1<<Bits)-1.
func (b Bitwise) Mask() uint64 {
	return (uint64(1) << b.Bits) - 1
}

// MinSize returns max(WindowSize, 1<<(Bits-2)).
func (b Bitwise) MinSize() uint32 {
	min := uint32(1) << (b.Bits - 2)
	if rabin.WindowSize > int(min) {
		return uint32(rabin.WindowSize)
	}
	return min
}

// MaxSize returns 4<<Bits.
func (b Bitwise) MaxSize() uint32 {
	return uint32(4) << b.Bits
}

// IsBoundary implements Predicate.
func (b Bitwise) IsBoundary(fp uint64, size uint32) bool {
	if (fp&b.Mask()) == 0 && size >= b.MinSize() {
		return true
	}
	return size >= b.MaxSize()
}

// Specified is the caller-parameterized predicate: a boundary occurs
// when the low Bits bits of the fingerprint equal the low Bits bits of
// Marker, subject to Min, or unconditionally once the chunk reaches
// Max (Max == 0 means "no maximum").
type Specified struct {
	Bits   uint
	Min    uint32
	Max    uint32
	Marker uint64
}

// Mask returns (1<<Bits)-1.
func (s Specified) Mask() uint64 {
	return (uint64(1) << s.Bits) - 1
}

// IsBoundary implements Predicate.
func (s Specified) IsBoundary(fp uint64, size uint32) bool {
	mask := s.Mask()
	if (fp&mask) == (s.Marker&mask) && size >= s.Min {
		return true
	}
	return s.Max != 0 && size >= s.Max
}
