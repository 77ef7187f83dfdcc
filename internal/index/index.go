// Package index records chunk and run metadata in Postgres so a
// chunk store's dedup behavior can be queried without scanning its
// directory: which chunks a run produced, in what order, and how many
// of them were new versus repeats of a chunk already on disk.
//
// Adapted from internal/metadata/database.go, narrowed from a
// file/chunk/ref-count schema built for a multi-node dedup service
// down to the one relationship this program's single-host run needs:
// a run produced an ordered sequence of chunk occurrences, some of
// which were the first sighting of that hash.
package index

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Index wraps a Postgres connection pool.
type Index struct {
	db *sql.DB
}

// Open connects to connStr and verifies it is reachable. Schema
// creation is the caller's responsibility (see schema.sql alongside
// this file); Open does not run migrations.
func Open(connStr string) (*Index, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Index{db: db}, nil
}

// Close releases the connection pool.
func (x *Index) Close() error {
	return x.db.Close()
}

// StartRun records the start of a chunking run against inputName.
func (x *Index) StartRun(run uuid.UUID, inputName string) error {
	_, err := x.db.Exec(
		`INSERT INTO runs (run_id, input_name, started_at) VALUES ($1, $2, now())`,
		run.String(), inputName,
	)
	return err
}

// RecordChunk records one chunk occurrence within a run, in emission
// order. It reports whether this hash has not been seen by this index
// before, upserting the chunk's size on first sighting.
func (x *Index) RecordChunk(run uuid.UUID, order int, hash string, size uint32) (isNew bool, err error) {
	tx, err := x.db.Begin()
	if err != nil {
		return false, fmt.Errorf("index: begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM chunks WHERE chunk_hash = $1)`, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("index: lookup chunk: %w", err)
	}

	if !exists {
		if _, err := tx.Exec(
			`INSERT INTO chunks (chunk_hash, chunk_size, first_seen_at) VALUES ($1, $2, now())`,
			hash, size,
		); err != nil {
			return false, fmt.Errorf("index: insert chunk: %w", err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO run_chunks (run_id, chunk_order, chunk_hash, is_new) VALUES ($1, $2, $3, $4)`,
		run.String(), order, hash, !exists,
	); err != nil {
		return false, fmt.Errorf("index: insert run_chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("index: commit: %w", err)
	}
	return !exists, nil
}

// Stats mirrors the original's dedup summary: unique chunk count,
// total occurrences across every run, and bytes stored versus bytes
// that would have been stored without dedup.
type Stats struct {
	UniqueChunks int64
	TotalChunks  int64
	BytesStored  int64
	BytesDeduped int64
	DedupRatio   float64
}

// Stats queries aggregate dedup metrics across every run this index
// has recorded.
func (x *Index) Stats() (Stats, error) {
	var s Stats
	err := x.db.QueryRow(`
		SELECT
			COUNT(*) AS unique_chunks,
			COALESCE(SUM(chunk_size), 0) AS bytes_stored
		FROM chunks
	`).Scan(&s.UniqueChunks, &s.BytesStored)
	if err != nil {
		return Stats{}, fmt.Errorf("index: stats: %w", err)
	}

	err = x.db.QueryRow(`
		SELECT
			COUNT(*) AS total_chunks,
			COALESCE(SUM(c.chunk_size), 0) AS bytes_deduped
		FROM run_chunks rc
		JOIN chunks c ON c.chunk_hash = rc.chunk_hash
	`).Scan(&s.TotalChunks, &s.BytesDeduped)
	if err != nil {
		return Stats{}, fmt.Errorf("index: stats: %w", err)
	}

	if s.UniqueChunks > 0 {
		s.DedupRatio = float64(s.TotalChunks) / float64(s.UniqueChunks)
	}
	return s, nil
}
