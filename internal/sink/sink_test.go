package sink

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/noorimat/rabinchunk/internal/chunking"
)

func TestPrintFormatsHashFingerprintLength(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrint(&buf, "rabin")

	p.ProcessByte('A')
	p.CompleteChunk(0xdeadbeefcafef00d, 0x0102030405060708)

	want := "rabin chunk hash: deadbeefcafef00d fingerprint: 0102030405060708 length: 1\n"
	if got := buf.String(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestStoreRenamesTempToHashName(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, uuid.New(), nil)

	for _, b := range []byte("chunk-one-payload") {
		s.ProcessByte(b)
	}
	s.CompleteChunk(0x1122334455667788, 0)

	want := filepath.Join(dir, "1122334455667788.rabin")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", want, err)
	}
	if string(data) != "chunk-one-payload" {
		t.Fatalf("stored content = %q, want %q", data, "chunk-one-payload")
	}
	if _, err := os.Stat(s.tmpPath()); !os.IsNotExist(err) {
		t.Fatalf("temp file still exists after completion: %v", err)
	}
}

func TestStoreDiscardsDuplicateHash(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, uuid.New(), nil)

	for _, b := range []byte("same-bytes") {
		s.ProcessByte(b)
	}
	s.CompleteChunk(0xaaaa, 0)

	path := filepath.Join(dir, "000000000000aaaa.rabin")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, b := range []byte("same-bytes") {
		s.ProcessByte(b)
	}
	s.CompleteChunk(0xaaaa, 0)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Fatalf("duplicate write clobbered existing chunk: got %q", data)
	}
	if _, err := os.Stat(s.tmpPath()); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind after discard: %v", err)
	}
}

func TestStoreIgnoresEmptyTrailingChunk(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, uuid.New(), nil)

	// No ProcessByte calls at all: a short/empty final chunk from the
	// driver's unconditional EOF completion must not create a file.
	s.CompleteChunk(0, 0)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no files for an empty completed chunk, got %v", entries)
	}
}

func TestCompressorFirstChunkIsLiteral(t *testing.T) {
	var buf bytes.Buffer
	c := NewCompressor(&buf, 1<<20)

	payload := []byte("hello")
	for _, b := range payload {
		c.ProcessByte(b)
	}
	c.CompleteChunk(1, 0)
	c.Close()

	if !bytes.Equal(buf.Bytes(), payload) {
		t.Fatalf("first chunk = %x, want raw payload %x", buf.Bytes(), payload)
	}
}

func TestCompressorEscapesLiteralStartingWithControlByte(t *testing.T) {
	var buf bytes.Buffer
	c := NewCompressor(&buf, 1<<20)

	// chunk 0: ordinary, establishes n=1.
	for _, b := range []byte("x") {
		c.ProcessByte(b)
	}
	c.CompleteChunk(1, 0)

	// chunk 1: a new hash whose first byte is the back-reference
	// marker; must be escaped with 0xFF.
	payload := append([]byte{0xFE}, []byte("rest")...)
	for _, b := range payload {
		c.ProcessByte(b)
	}
	c.CompleteChunk(2, 0)
	c.Close()

	want := append([]byte("x"), append([]byte{0xFF}, payload...)...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got %x, want %x", buf.Bytes(), want)
	}
}

func TestCompressorBackReferenceUsesFirstOccurrence(t *testing.T) {
	var buf bytes.Buffer
	c := NewCompressor(&buf, 1<<20)

	emit := func(hash uint64, payload string) {
		for _, b := range []byte(payload) {
			c.ProcessByte(b)
		}
		c.CompleteChunk(hash, 0)
	}

	emit(1, "a") // n=0, first occurrence of hash 1
	emit(2, "b") // n=1, first occurrence of hash 2
	emit(1, "a") // n=2, repeat of hash 1: delta = 2-0 = 2
	emit(1, "a") // n=3, repeat of hash 1: delta must still be 3-0 = 3,
	// not 3-2=1, because the table keeps the FIRST occurrence index.
	c.Close()

	got := buf.Bytes()
	want := []byte{'a', 'b',
		backrefByte, 2 | varintCont,
		backrefByte, 3 | varintCont,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestCompressorVarintAtDelta127TakesTwoBytes(t *testing.T) {
	// original_source/src/rabincmd.C's varint loop is "while(chunkLoc
	// >= 127)" — its own comment claims "chunkNums < 128 use only one
	// byte", but the code it sits above disagrees with itself at
	// exactly 127: spec.md's Open Question flags this exact
	// discrepancy. Trust the executable behavior (the while
	// condition), not the comment: delta=127 enters the loop once
	// (writing 0x7F with the continuation bit clear, delta>>=7 -> 0),
	// then writes the terminator byte 0x80 — two bytes, not the single
	// 0xFF a naive reading of the comment would predict.
	var buf bytes.Buffer
	c := NewCompressor(&buf, 1<<20)

	emit := func(hash uint64, payload string) {
		for _, b := range []byte(payload) {
			c.ProcessByte(b)
		}
		c.CompleteChunk(hash, 0)
	}

	emit(1, "a")
	for i := 0; i < 126; i++ {
		emit(2, "b")
	}
	emit(1, "a") // n=127, delta = 127 - table[1](=0) = 127
	c.Close()

	got := buf.Bytes()
	if len(got) < 3 {
		t.Fatalf("got too short: %x", got)
	}
	last := got[len(got)-3:]
	want := []byte{backrefByte, 0x7F, 0x80}
	if !bytes.Equal(last, want) {
		t.Fatalf("last frame = %x, want %x (delta=127 as two varint bytes)", last, want)
	}
}

func TestCompositeIntoCompressorEmitsLiteral(t *testing.T) {
	// Sanity check that a Compressor satisfies chunking.Sink and, sitting
	// behind a Composite, writes the first chunk out as a literal.
	var buf bytes.Buffer
	comp := NewCompressor(&buf, 1<<20)
	var composite chunking.Sink = chunking.NewComposite(comp)

	composite.ProcessByte('z')
	composite.CompleteChunk(0x42, 0)
	comp.Close()

	if got := hex.EncodeToString(buf.Bytes()); got != hex.EncodeToString([]byte("z")) {
		t.Fatalf("got %q, want %q", got, "z")
	}
}

func TestStatsSuppressesAllZeroChunk(t *testing.T) {
	dir := t.TempDir()
	s := NewStats(dir, "", 2, "host-0-0", "input.bin")

	for i := 0; i < 16; i++ {
		s.ProcessByte(0)
	}
	s.CompleteChunk(0xaaaa, 0)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	blocks, size := s.ZeroTally()
	if blocks != 1 {
		t.Fatalf("zero_blocks = %d, want 1", blocks)
	}
	if size != 16 {
		t.Fatalf("zero_block_size = %d, want 16", size)
	}

	var statsFiles int
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == ".stats" {
			statsFiles++
		}
		return nil
	})
	if statsFiles != 0 {
		t.Fatalf("expected zero .stats files for an all-zero chunk, found %d", statsFiles)
	}
}

func TestStatsWritesFileForNonZeroChunk(t *testing.T) {
	dir := t.TempDir()
	s := NewStats(dir, "notation", 2, "host-0-0", "input.bin")

	for _, b := range []byte("not all zero") {
		s.ProcessByte(b)
	}
	s.CompleteChunk(0xbeef, 0)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	var found []string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == ".stats" {
			found = append(found, path)
		}
		return nil
	})
	if len(found) != 1 {
		t.Fatalf("expected exactly one .stats file, found %v", found)
	}

	body, err := os.ReadFile(found[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(body, []byte("input.bin")) {
		t.Fatalf(".stats body missing input file name: %q", body)
	}
}
