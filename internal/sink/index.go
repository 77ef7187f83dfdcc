package sink

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// Recorder is the subset of internal/index's Index used by the sink:
// kept narrow so sink does not import database/sql transitively.
type Recorder interface {
	RecordChunk(run uuid.UUID, order int, hash string, size uint32) (isNew bool, err error)
}

// Index is the index-recording sink: it mirrors each completed chunk
// into a Recorder (internal/index) alongside whatever other sinks are
// registered, without participating in the content-addressed store's
// file layout at all.
type Index struct {
	rec   Recorder
	run   uuid.UUID
	order int
	size  uint32
}

// NewIndex builds an index-recording sink for one run.
func NewIndex(rec Recorder, run uuid.UUID) *Index {
	return &Index{rec: rec, run: run}
}

// ProcessByte implements chunking.Sink.
func (x *Index) ProcessByte(b byte) {
	x.size++
}

// CompleteChunk implements chunking.Sink. A recording failure is
// logged and otherwise ignored: losing the queryable index must not
// abort a run that is still producing correct chunk store output.
func (x *Index) CompleteChunk(hash, fingerprint uint64) {
	defer func() { x.order++; x.size = 0 }()

	if x.size == 0 {
		return
	}

	hashStr := fmt.Sprintf("%016x", hash)
	if _, err := x.rec.RecordChunk(x.run, x.order, hashStr, x.size); err != nil {
		fmt.Fprintf(os.Stderr, "sink: index: could not record chunk %s: %v\n", hashStr, err)
	}
}

// Size implements chunking.Sink.
func (x *Index) Size() uint32 {
	return x.size
}
