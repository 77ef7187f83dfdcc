// Package inspect serves a small read-only HTTP surface over a
// running or completed chunking run: a liveness probe and a stats
// summary pulled from whichever of the index/stats sinks are active.
//
// Adapted from cmd/api-server/main.go's healthHandler/statsHandler
// (there backed by a node registry and a Postgres-wide dedup query;
// here backed by index.Stats, which aggregates every run the index has
// recorded, and the local stats sink's zero-block tally, since there is
// no multi-node registry in this program).
package inspect

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// StatsSource supplies whatever counters are available to report;
// every field is optional so the server can run with any subset of
// sinks enabled.
type StatsSource struct {
	// IndexStats, if non-nil, is called lazily per request.
	IndexStats func() (unique, total int64, dedupRatio float64, err error)
	// ZeroTally, if non-nil, reports the stats sink's running
	// zero-block counters.
	ZeroTally func() (blocks, blockSize uint64)
}

// Server wraps a gorilla/mux router exposing /healthz and /stats.
type Server struct {
	router *mux.Router
	src    StatsSource
	start  time.Time
}

// NewServer builds an inspect server. start is recorded as the
// process's run start time, reported under /healthz.
func NewServer(src StatsSource, start time.Time) *Server {
	s := &Server{router: mux.NewRouter(), src: src, start: start}
	s.router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	s.router.HandleFunc("/stats", s.statsHandler).Methods("GET")
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     "healthy",
		"time":       time.Now().Format(time.RFC3339),
		"started_at": s.start.Format(time.RFC3339),
		"uptime":     time.Since(s.start).String(),
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{}

	if s.src.IndexStats != nil {
		unique, total, ratio, err := s.src.IndexStats()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body["unique_chunks"] = unique
		body["total_chunks"] = total
		body["dedup_ratio"] = ratio
	}

	if s.src.ZeroTally != nil {
		blocks, blockSize := s.src.ZeroTally()
		body["zero_blocks"] = blocks
		body["zero_block_size"] = blockSize
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}
