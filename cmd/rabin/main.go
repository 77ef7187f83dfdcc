// Command rabin chunks a file using content-defined Rabin fingerprint
// boundaries and dispatches each chunk to whichever sinks the caller
// enabled on the command line: a printer, a content-addressed file
// store, a stats recorder, a compressor, or (given a previously
// compressed stream) an extractor.
//
// Flag parsing, option validation, directory creation, host-name
// acquisition, and error reporting live here deliberately: the core
// packages under internal/ never touch flag, os.Args, or a
// human-readable message, matching spec.md §1's "out of scope /
// external collaborators" boundary.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/noorimat/rabinchunk/internal/boundary"
	"github.com/noorimat/rabinchunk/internal/chunking"
	"github.com/noorimat/rabinchunk/internal/extract"
	"github.com/noorimat/rabinchunk/internal/index"
	"github.com/noorimat/rabinchunk/internal/inspect"
	"github.com/noorimat/rabinchunk/internal/rabinerr"
	"github.com/noorimat/rabinchunk/internal/runid"
	"github.com/noorimat/rabinchunk/internal/seal"
	"github.com/noorimat/rabinchunk/internal/sink"
)

// Exit codes, spec.md §6.
const (
	exitUsage     = -1
	exitOpen      = -2
	exitChunkTemp = -3
)

// options is the resolved flag set: the external collaborator's
// output the core consumes (spec.md §3's Options struct), adapted
// from original_source/src/rabincmd.C's Options class.
type options struct {
	bits    uint
	minSize uint32
	maxSize uint32
	marker  uint64
	fixed   bool
	fixedN  uint32

	chunkDir string

	statsDir      string
	statsLevels   int
	statsNotation string

	print    bool
	compress bool
	extract  bool
	outPath  string

	sealPassword string
	pgDSN        string
	listenAddr   string

	inPath string
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "rabin:", err)
		os.Exit(exitUsage)
	}

	if err := runGuarded(opts); err != nil {
		fmt.Fprintln(os.Stderr, "rabin:", err)
		os.Exit(exitCode(err))
	}
}

// runGuarded recovers the panics sinks raise on fatal, mid-run I/O
// failure (spec.md §7's policy: every error is fatal, reported as a
// single diagnostic line, never a bare stack trace) and turns them
// back into the same sentinel-wrapped errors run would have returned
// directly for a failure caught earlier (e.g. at open time).
func runGuarded(o *options) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = rerr
				return
			}
			err = fmt.Errorf("%w: %v", rabinerr.ErrWrite, r)
		}
	}()
	return run(o)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, rabinerr.ErrOpen):
		return exitOpen
	case errors.Is(err, rabinerr.ErrChunkTemp):
		return exitChunkTemp
	default:
		return exitUsage
	}
}

func parseOptions(args []string) (*options, error) {
	fs := flag.NewFlagSet("rabin", flag.ContinueOnError)

	bits := fs.Uint("b", 13, "fingerprint bits (expected chunk size 2^b)")
	maxSize := fs.Uint("M", 0, "max chunk size in bytes (derived from -b if -M, -m and -B are all unset; otherwise 0 means no maximum)")
	minSize := fs.Uint("m", 0, "min chunk size in bytes (derived from -b if -M, -m and -B are all unset; otherwise 0 means no minimum)")
	marker := fs.String("B", "", "boundary marker (hex, e.g. 0x1234); switches to the specified predicate")
	fixedN := fs.Uint("f", 0, "fixed chunk size: sets max=min=N, bits=32, suppresses min/max warnings")
	chunkDir := fs.String("d", "", "enable content-addressed file sink into DIR")
	statsDir := fs.String("s", "", "enable stats sink into DIR")
	statsLevels := fs.Int("l", 2, "stats directory hash-prefix levels")
	statsNotation := fs.String("n", "", "stats file name notation prefix")
	print := fs.Bool("p", false, "enable print sink")
	compress := fs.Bool("c", false, "enable compressor sink")
	extractFlag := fs.Bool("x", false, "enable extractor (requires -o)")
	outPath := fs.String("o", "", "output file path")
	sealPassword := fs.String("k", "", "encrypt chunk store contents with this password")
	pgDSN := fs.String("pg", "", "Postgres DSN: record chunks in a queryable index")
	listenAddr := fs.String("listen", "", "serve /healthz and /stats on this address while running")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", rabinerr.ErrUsage, err)
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("%w: expected exactly one input file argument, got %d", rabinerr.ErrUsage, fs.NArg())
	}

	o := &options{
		bits:          *bits,
		maxSize:       uint32(*maxSize),
		minSize:       uint32(*minSize),
		chunkDir:      *chunkDir,
		statsDir:      *statsDir,
		statsLevels:   *statsLevels,
		statsNotation: *statsNotation,
		print:         *print,
		compress:      *compress,
		extract:       *extractFlag,
		outPath:       *outPath,
		sealPassword:  *sealPassword,
		pgDSN:         *pgDSN,
		listenAddr:    *listenAddr,
		inPath:        fs.Arg(0),
	}

	if *marker != "" {
		m, err := strconv.ParseUint(*marker, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid -B marker %q: %v", rabinerr.ErrUsage, *marker, err)
		}
		o.marker = m
	}

	if *fixedN != 0 {
		o.fixed = true
		o.fixedN = uint32(*fixedN)
	}

	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// validate restores original_source/src/rabincmd.C's
// validateOptionCombination: fatal mutual-exclusion checks plus
// non-fatal min/max-size warnings (suppressed by -f).
func (o *options) validate() error {
	if o.compress && o.extract {
		return fmt.Errorf("%w: -c and -x are mutually exclusive", rabinerr.ErrUsage)
	}
	if o.extract && o.outPath == "" {
		return fmt.Errorf("%w: -x requires -o", rabinerr.ErrUsage)
	}
	if o.print && (o.compress || o.extract) && o.outPath == "" {
		return fmt.Errorf("%w: -p combined with -c or -x requires -o", rabinerr.ErrUsage)
	}

	if !o.fixed && o.bits > 0 {
		expected := uint32(1) << o.bits
		if o.maxSize != 0 && o.maxSize < 2*expected {
			log.Printf("rabin: warning: -M %d is less than twice the expected chunk size 2^%d", o.maxSize, o.bits)
		}
		if o.minSize != 0 && o.minSize >= expected/2 {
			log.Printf("rabin: warning: -m %d is at least half the expected chunk size 2^%d", o.minSize, o.bits)
		}
	}
	return nil
}

func (o *options) predicate() boundary.Predicate {
	if o.fixed {
		return boundary.Specified{Bits: 32, Min: o.fixedN, Max: o.fixedN}
	}
	if o.marker != 0 || o.minSize != 0 || o.maxSize != 0 {
		return boundary.Specified{Bits: o.bits, Min: o.minSize, Max: o.maxSize, Marker: o.marker}
	}
	return boundary.Bitwise{Bits: o.bits}
}

func run(o *options) error {
	in, err := os.Open(o.inPath)
	if err != nil {
		return fmt.Errorf("%w: %v", rabinerr.ErrOpen, err)
	}
	defer in.Close()

	pred := o.predicate()

	if o.extract {
		return runExtract(o, pred, in)
	}
	return runChunk(o, pred, in, runid.New())
}

func runChunk(o *options, pred boundary.Predicate, in *os.File, run uuid.UUID) error {
	composite := &chunking.Composite{}

	var closers []func() error
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				fmt.Fprintln(os.Stderr, "rabin:", err)
			}
		}
	}()

	if o.print {
		composite.Add(sink.NewPrint(os.Stdout, "rabin"))
	}

	var statsSink *sink.Stats
	if o.statsDir != "" {
		if err := os.MkdirAll(o.statsDir, 0o777); err != nil {
			return fmt.Errorf("%w: %v", rabinerr.ErrLayout, err)
		}
		prefix, err := statsPrefix(in)
		if err != nil {
			return fmt.Errorf("%w: %v", rabinerr.ErrLayout, err)
		}
		statsSink = sink.NewStats(o.statsDir, o.statsNotation, o.statsLevels, prefix, o.inPath)
		composite.Add(statsSink)
		closers = append(closers, statsSink.Close)
	}

	var idx *index.Index
	if o.pgDSN != "" {
		x, err := index.Open(o.pgDSN)
		if err != nil {
			return fmt.Errorf("%w: %v", rabinerr.ErrOpen, err)
		}
		idx = x
		closers = append(closers, idx.Close)

		if err := idx.StartRun(run, o.inPath); err != nil {
			return fmt.Errorf("%w: %v", rabinerr.ErrOpen, err)
		}
		composite.Add(sink.NewIndex(idx, run))
	}

	if o.chunkDir != "" {
		if err := os.MkdirAll(o.chunkDir, 0o777); err != nil {
			return fmt.Errorf("%w: %v", rabinerr.ErrLayout, err)
		}
		var sealer sink.Sealer
		if o.sealPassword != "" {
			key, err := sealKeyFor(o.chunkDir, o.sealPassword)
			if err != nil {
				return fmt.Errorf("%w: %v", rabinerr.ErrOpen, err)
			}
			sealer = key
		}
		store := sink.NewStore(o.chunkDir, run, sealer)
		composite.Add(store)
		closers = append(closers, store.Close)
	}

	if o.compress {
		out, err := openOutput(o.outPath)
		if err != nil {
			return fmt.Errorf("%w: %v", rabinerr.ErrOpen, err)
		}
		if out != os.Stdout {
			closers = append(closers, out.Close)
		}
		compressor := sink.NewCompressor(out, effectiveMaxSize(pred))
		composite.Add(compressor)
		closers = append(closers, compressor.Close)
	}

	if o.listenAddr != "" {
		srv := inspect.NewServer(inspectSource(statsSink, idx), time.Now())
		go func() {
			if err := http.ListenAndServe(o.listenAddr, srv); err != nil {
				log.Printf("rabin: inspect server stopped: %v", err)
			}
		}()
	}

	driver := chunking.NewDriver(pred, composite)
	src := extract.NewRawSource(in)
	if err := driver.Run(src); err != nil {
		return fmt.Errorf("%w: %v", rabinerr.ErrWrite, err)
	}
	return nil
}

func runExtract(o *options, pred boundary.Predicate, in *os.File) error {
	out, err := os.OpenFile(o.outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", rabinerr.ErrOpen, err)
	}
	defer out.Close()

	ex := extract.NewExtractor(pred, in, out)
	return ex.Run()
}

func openOutput(path string) (*os.File, error) {
	if path == "" {
		return os.Stdout, nil
	}
	return os.Create(path)
}

// effectiveMaxSize bounds the compressor's scratch buffer; mirrors the
// predicate's own max where it has one. A Specified predicate with no
// maximum gets a 1<<24-byte buffer, and a longer chunk makes the
// compressor panic with an invariant error.
func effectiveMaxSize(pred boundary.Predicate) uint32 {
	switch p := pred.(type) {
	case boundary.Bitwise:
		return p.MaxSize()
	case boundary.Specified:
		if p.Max != 0 {
			return p.Max
		}
	}
	return 1 << 24
}

// sealSaltFile names the file under a chunk_dir that holds the PBKDF2
// salt for that directory's sealed chunks, so a later invocation with
// the same password (and, eventually, a read path) rederives the same
// key instead of silently locking every chunk sealed under a
// once-only random salt.
const sealSaltFile = ".seal-salt"

// sealKeyFor derives the sealing key for chunkDir: reuses the salt
// already on disk if this directory has been sealed before, otherwise
// generates one and persists it.
func sealKeyFor(chunkDir, password string) (*seal.Key, error) {
	saltPath := filepath.Join(chunkDir, sealSaltFile)

	salt, err := os.ReadFile(saltPath)
	if err == nil {
		return seal.DeriveKey(password, salt)
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key, err := seal.DeriveKey(password, nil)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(saltPath, key.Salt, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// statsPrefix reproduces original_source's
// "<hostname>-<device>-<inode>" stats file-name prefix.
func statsPrefix(f *os.File) (string, error) {
	host, err := os.Hostname()
	if err != nil {
		return "", err
	}
	fi, err := f.Stat()
	if err != nil {
		return "", err
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Sprintf("%s-0-0", host), nil
	}
	return fmt.Sprintf("%s-%d-%d", host, st.Dev, st.Ino), nil
}

func inspectSource(stats *sink.Stats, idx *index.Index) inspect.StatsSource {
	src := inspect.StatsSource{}
	if stats != nil {
		src.ZeroTally = stats.ZeroTally
	}
	if idx != nil {
		src.IndexStats = func() (int64, int64, float64, error) {
			s, err := idx.Stats()
			if err != nil {
				return 0, 0, 0, err
			}
			return s.UniqueChunks, s.TotalChunks, s.DedupRatio, nil
		}
	}
	return src
}
