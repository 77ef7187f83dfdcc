package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/noorimat/rabinchunk/internal/rabinerr"
)

// Stats is the stats sink (C7): for each chunk, it records
// human-readable metadata in a file distributed over a hashed prefix
// directory tree, with zero-chunk suppression and a running tally
// written out on Close.
//
// Grounded on original_source/src/rabincmd.C's StatsChunkProcessor,
// including its offset-initialized-to-(-1) /
// chunkSize = offset - chunkStart + 1 arithmetic (spec.md's Open
// Question: preserve the observed behavior, do not "fix" it without
// evidence).
type Stats struct {
	dir      string
	notation string
	levels   int
	prefix   string
	fileName string

	offset     int64
	chunkStart int64
	chunkIndex int64
	zeroCount  uint64

	zeroBlocks    uint64
	zeroBlockSize uint64
}

// NewStats builds a stats sink. prefix is normally
// "<hostname>-<device>-<inode>" of the input file (§4.6); fileName is
// the input file's display name, recorded verbatim in every .stats
// body.
func NewStats(dir, notation string, levels int, prefix, fileName string) *Stats {
	return &Stats{
		dir:        dir,
		notation:   notation,
		levels:     levels,
		prefix:     prefix,
		fileName:   fileName,
		offset:     -1,
		chunkStart: 0,
	}
}

// ProcessByte implements chunking.Sink.
func (s *Stats) ProcessByte(b byte) {
	s.offset++
	if b == 0 {
		s.zeroCount++
	} else {
		s.zeroCount = 0
	}
}

// CompleteChunk implements chunking.Sink.
func (s *Stats) CompleteChunk(hash, fingerprint uint64) {
	chunkSize := s.offset - s.chunkStart + 1

	if chunkSize != 0 && s.zeroCount >= uint64(chunkSize) {
		s.zeroBlocks++
		s.zeroCount = 0
		if s.zeroBlockSize == 0 {
			s.zeroBlockSize = uint64(chunkSize)
		}
	} else {
		s.writeStatsFile(hash, chunkSize)
	}

	s.chunkStart = s.offset + 1
	s.chunkIndex++
}

func (s *Stats) writeStatsFile(hash uint64, chunkSize int64) {
	hashStr := fmt.Sprintf("%016x", hash)
	dir := s.chunkDir(hashStr, chunkSize)

	statFileName := fmt.Sprintf("%s-%d.stats", s.prefix, s.chunkIndex)
	if s.notation != "" {
		statFileName = s.notation + "-" + statFileName
	}

	path := filepath.Join(dir, statFileName)
	f, err := os.Create(path)
	if err != nil {
		panic(fmt.Errorf("%w: could not open stats file %q: %v", rabinerr.ErrLayout, path, err))
	}
	defer f.Close()

	fmt.Fprintf(f, "file name: %s\nchunk number: %d\nstart offset: %d\nend offset: %d\nsize: %d\n",
		s.fileName, s.chunkIndex, s.chunkStart, s.offset, chunkSize)
}

// chunkDir returns (and if necessary creates) the leaf ".hash"
// directory for hashStr, writing a <size>.size marker file the first
// time that hash is observed.
func (s *Stats) chunkDir(hashStr string, chunkSize int64) string {
	dirPath := s.prefixPath(hashStr) + ".hash"

	for attempt := 1; attempt <= 2; attempt++ {
		err := os.Mkdir(dirPath, 0o777)
		if err == nil {
			sizePath := filepath.Join(dirPath, fmt.Sprintf("%d.size", chunkSize))
			if f, err := os.Create(sizePath); err == nil {
				fmt.Fprintf(f, "%d\n", chunkSize)
				f.Close()
			}
			break
		}
		if errors.Is(err, os.ErrExist) {
			break
		}
		if attempt == 1 {
			s.makeDirs(hashStr)
			continue
		}
		panic(fmt.Errorf("%w: could not create directory %q: %v", rabinerr.ErrLayout, dirPath, err))
	}

	return dirPath
}

// prefixPath returns <statsDir>/<h0>/<h1>/.../<h[L-1]>/<hashStr>, the
// hashed prefix tree without the trailing ".hash".
func (s *Stats) prefixPath(hashStr string) string {
	path := s.dir
	for l := 0; l < s.levels; l++ {
		path = filepath.Join(path, string(hashStr[l]))
	}
	return filepath.Join(path, hashStr)
}

// makeDirs creates the L-level prefix path (not the leaf .hash
// directory) so a retried Mkdir of the leaf succeeds.
func (s *Stats) makeDirs(hashStr string) {
	path := s.dir
	for l := 0; l < s.levels; l++ {
		path = filepath.Join(path, string(hashStr[l]))
		if err := os.Mkdir(path, 0o777); err != nil && !errors.Is(err, os.ErrExist) {
			panic(fmt.Errorf("%w: could not create directory %q: %v", rabinerr.ErrLayout, path, err))
		}
	}
}

// Size implements chunking.Sink. The stats sink's notion of size is
// derived from offset/chunkStart, not a separate counter.
func (s *Stats) Size() uint32 {
	return uint32(s.offset - s.chunkStart + 1)
}

// Close writes the <prefix>.zeroes tally file. Must be called exactly
// once, after the driver has finished.
func (s *Stats) Close() error {
	path := filepath.Join(s.dir, s.prefix+".zeroes")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("sink: could not write zero tally %q: %w", path, err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "zero blocks: %d\nzero block size: %d\n", s.zeroBlocks, s.zeroBlockSize)
	return err
}

// ZeroTally exposes the running tally for internal/inspect's /stats
// endpoint without waiting for Close.
func (s *Stats) ZeroTally() (blocks, blockSize uint64) {
	return s.zeroBlocks, s.zeroBlockSize
}
