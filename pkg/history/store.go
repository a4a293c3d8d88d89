// Package history implements the workspace-history cache (spec §4.3): a
// round-robin block cache plus, per entry id, an ordered list of
// resolutions answering "what did this entry look like at wall-clock time
// T?" without redundant server round trips.
package history

import (
	"sync"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/metrics"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// Store holds the block cache and the per-entry-id resolution lists behind
// a single mutex (spec §5: "a single mutex protects the per-entry resolution
// lists; populates and resolves acquire it. Contention is minimal.").
// Manifest resolutions are never evicted; only the block cache evicts.
type Store struct {
	Blocks *BlockCache

	mu        sync.Mutex
	manifests map[types.VlobID][]resolution
}

// NewStore returns an empty workspace-history cache.
func NewStore() *Store {
	return &Store{
		Blocks:    NewBlockCache(),
		manifests: make(map[types.VlobID][]resolution),
	}
}

// PopulateNotFound records that entry did not exist up to and including at.
func (s *Store) PopulateNotFound(entry types.VlobID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := populateNotFound(s.manifests[entry], at)
	if err != nil {
		return err
	}
	s.manifests[entry] = next
	return nil
}

// PopulateExists records that manifest was the observable version of its
// entry id at wall-clock time at (at must be no earlier than the manifest's
// own timestamp).
func (s *Store) PopulateExists(at time.Time, manifest types.Manifest) error {
	meta := manifest.Meta()
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := populateExists(s.manifests[meta.ID], existsAt(at, meta.Version, meta.Timestamp, manifest))
	if err != nil {
		return err
	}
	s.manifests[meta.ID] = next
	return nil
}

// Resolve answers what entry looked like at wall-clock time at, or reports
// a cache miss requiring a server round trip.
func (s *Store) Resolve(entry types.VlobID, at time.Time) ResolveResult {
	s.mu.Lock()
	result := resolve(s.manifests[entry], at)
	s.mu.Unlock()

	switch result.Status {
	case ResolvedExists:
		metrics.HistoryResolveTotal.WithLabelValues("exists").Inc()
	case ResolvedNotFound:
		metrics.HistoryResolveTotal.WithLabelValues("not_found").Inc()
	default:
		metrics.HistoryResolveTotal.WithLabelValues("cache_miss").Inc()
	}
	return result
}
