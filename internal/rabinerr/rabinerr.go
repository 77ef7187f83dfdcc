// Package rabinerr defines the sentinel error kinds from which every
// fatal condition in this program is built, so callers can classify a
// failure with errors.Is instead of string matching, and cmd/rabin can
// map each kind to the exit code spec.md §6 assigns it.
package rabinerr

import "errors"

var (
	// ErrUsage covers bad flags or arguments (exit code -1).
	ErrUsage = errors.New("usage error")
	// ErrOpen covers a source or destination that cannot be opened
	// (exit code -2).
	ErrOpen = errors.New("open error")
	// ErrChunkTemp covers chunk-temp-file failures in the
	// content-addressed sink (exit code -3).
	ErrChunkTemp = errors.New("chunk temp file error")
	// ErrWrite covers a write failure mid-stream.
	ErrWrite = errors.New("write error")
	// ErrLayout covers a missing or unwritable stats directory.
	ErrLayout = errors.New("filesystem layout error")
	// ErrFormat covers a malformed compressed stream encountered by
	// the extractor: a truncated varint, a back-reference beyond known
	// chunks, or a read failure on the stream. The extractor does not
	// check chunk sizes against a maximum.
	ErrFormat = errors.New("compressed stream format error")
	// ErrInvariant covers an internal invariant violation, such as a
	// sink buffer growing past max size without a boundary.
	ErrInvariant = errors.New("invariant violation")
)
