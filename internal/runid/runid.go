// Package runid mints a unique identifier for one invocation of the
// CLI, so that two concurrent runs writing into the same chunk_dir
// never contend for the same well-known temp-file name (spec.md §5
// already allows them to race on the final rename; this just removes
// an unforced collision on the temp name).
package runid

import "github.com/google/uuid"

// New returns a fresh per-invocation identifier.
func New() uuid.UUID {
	return uuid.New()
}
