package history

import (
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// resolution records what a manifest history cache knows about an entry id
// as of a given lookup time `at`: either it did not exist (NotFound), or a
// specific version, created at `timestamp`, was the observable one
// (Exists). Spec §4.3 "Manifest history".
type resolution struct {
	at        time.Time
	exists    bool
	version   uint32
	timestamp time.Time
	manifest  types.Manifest
}

func notFoundAt(at time.Time) resolution {
	return resolution{at: at, exists: false}
}

func existsAt(at time.Time, version uint32, timestamp time.Time, manifest types.Manifest) resolution {
	return resolution{at: at, exists: true, version: version, timestamp: timestamp, manifest: manifest}
}

// ResolveStatus is the outcome of resolving an entry id at a point in time.
type ResolveStatus int

const (
	CacheMiss ResolveStatus = iota
	ResolvedNotFound
	ResolvedExists
)

// ResolveResult is the outcome of Store.Resolve.
type ResolveResult struct {
	Status   ResolveStatus
	Manifest types.Manifest
}

// populateNotFound implements spec §4.3's NotFound populate rules.
func populateNotFound(list []resolution, at time.Time) ([]resolution, error) {
	if len(list) == 0 {
		return []resolution{notFoundAt(at)}, nil
	}

	first := list[0]
	if !first.exists {
		if at.After(first.at) {
			out := append([]resolution(nil), list...)
			out[0].at = at
			return out, nil
		}
		return list, nil
	}

	// first is Exists{version, timestamp}: a NotFound claim can only precede it.
	if !first.timestamp.After(at) {
		// The manifest was already known to exist at or before the claimed
		// NotFound upper bound: the two resolutions contradict each other.
		return nil, &errs.InvalidHistory{Reason: errs.ErrAlreadyKnownToExist}
	}
	if first.version == 1 {
		// Version 1's creation time already implies NotFound before it.
		return list, nil
	}
	out := make([]resolution, 0, len(list)+1)
	out = append(out, notFoundAt(at))
	out = append(out, list...)
	return out, nil
}

// populateExists implements spec §4.3's Exists populate rules.
func populateExists(list []resolution, nr resolution) ([]resolution, error) {
	if nr.timestamp.After(nr.at) {
		// A manifest cannot be observed before it was created.
		return nil, &errs.InvalidHistory{Reason: errs.ErrResolutionTooRecent}
	}

	if len(list) == 0 {
		return []resolution{nr}, nil
	}

	for i, r := range list {
		if !r.exists {
			if !r.at.Before(nr.timestamp) {
				// This NotFound claims the entry didn't exist at or after the
				// time our new resolution says it was created.
				return nil, &errs.InvalidHistory{Reason: errs.ErrAlreadyKnownToBeNotFound}
			}
			continue
		}

		if nr.at.Before(r.at) {
			switch {
			case nr.version < r.version:
				if !nr.at.Before(r.timestamp) {
					return nil, &errs.InvalidHistory{Reason: errs.ErrHistoryAlreadyKnownAndDiffers}
				}
				inserted := nr
				if nr.version+1 == r.version {
					// The next known version follows ours immediately: we now
					// know the exact span our version was valid for.
					inserted.at = r.timestamp.Add(-time.Microsecond)
				}
				out := make([]resolution, 0, len(list)+1)
				out = append(out, list[:i]...)
				out = append(out, inserted)
				out = append(out, list[i:]...)
				return out, nil

			case nr.version == r.version:
				if !r.timestamp.Equal(nr.timestamp) {
					return nil, &errs.InvalidHistory{Reason: errs.ErrHistoryAlreadyKnownAndDiffers}
				}
				out := append([]resolution(nil), list...)
				if nr.at.After(out[i].at) {
					out[i].at = nr.at
				}
				return out, nil

			default: // nr.version > r.version
				return nil, &errs.InvalidHistory{Reason: errs.ErrAlreadyKnownToHaveMoreRecentSmallerVersion}
			}
		}
	}

	// All existing resolutions occurred before ours: insert or merge last.
	last := list[len(list)-1]
	if !last.exists {
		return append(append([]resolution(nil), list...), nr), nil
	}

	switch {
	case nr.version > last.version:
		if !nr.timestamp.After(last.timestamp) {
			return nil, &errs.InvalidHistory{Reason: errs.ErrAlreadyKnownToHaveMoreRecentSmallerVersion}
		}
		out := append([]resolution(nil), list...)
		if nr.version == last.version+1 {
			out[len(out)-1].at = nr.timestamp.Add(-time.Microsecond)
		}
		return append(out, nr), nil

	case nr.version == last.version:
		if !last.timestamp.Equal(nr.timestamp) {
			return nil, &errs.InvalidHistory{Reason: errs.ErrHistoryAlreadyKnownAndDiffers}
		}
		out := append([]resolution(nil), list...)
		if nr.at.After(out[len(out)-1].at) {
			out[len(out)-1].at = nr.at
		}
		return out, nil

	default: // nr.version < last.version
		return nil, &errs.InvalidHistory{Reason: errs.ErrAlreadyKnownToHaveMoreRecentSmallerVersion}
	}
}

// resolve implements spec §4.3's resolve(at, id) rules.
func resolve(list []resolution, at time.Time) ResolveResult {
	for _, r := range list {
		if r.exists {
			if at.After(r.at) {
				continue
			}
			if !at.Before(r.timestamp) {
				return ResolveResult{Status: ResolvedExists, Manifest: r.manifest}
			}
			if r.version == 1 {
				return ResolveResult{Status: ResolvedNotFound}
			}
			continue
		}
		if !at.After(r.at) {
			return ResolveResult{Status: ResolvedNotFound}
		}
	}
	return ResolveResult{Status: CacheMiss}
}
