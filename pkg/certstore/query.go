package certstore

import (
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// UpTo bounds a query: either the current local state, or as-of a timestamp.
type UpTo struct {
	isCurrent bool
	at        time.Time
}

func Current() UpTo                   { return UpTo{isCurrent: true} }
func AtTimestamp(t time.Time) UpTo    { return UpTo{at: t} }

func (u UpTo) includes(ts time.Time) bool {
	if u.isCurrent {
		return true
	}
	return !ts.After(u.at)
}

// GetOneStatus distinguishes the three outcomes of get_one (spec §4.1).
type GetOneStatus int

const (
	NonExisting GetOneStatus = iota
	ExistsButTooRecent
	Found
)

type GetOneResult struct {
	Status    GetOneStatus
	TooRecent time.Time // valid when Status == ExistsButTooRecent
	Cert      SignedCertificate
}

// Filter narrows a query to a kind-specific (filter1, filter2) prefix. Pass
// nil for "no filter" (every certificate of this kind).
type Filter struct {
	F1 *[16]byte
	F2 *[16]byte
}

func NoFilter() Filter { return Filter{} }

// GetOne returns the newest certificate of kind matching filter at or before
// up_to. It distinguishes NonExisting from ExistsButTooRecent with a single
// scan that tracks both the newest match within up_to and the newest match
// overall; the latter is reported only when the former is empty.
func (s *Store) GetOne(kind types.CertKind, filter Filter, upTo UpTo) (GetOneResult, error) {
	var result GetOneResult
	err := s.kv.ForRead(func(tx storage.Tx) error {
		b, err := tx.Bucket(bucketName(kind))
		if err != nil {
			return err
		}
		prefix := filterPrefix(filter.F1, filter.F2)

		var bestBounded, bestUnbounded []byte
		var bestBoundedTS, bestUnboundedTS uint64
		scan := func(k, v []byte) bool {
			ts := tsOfKey(k)
			if ts > bestUnboundedTS || bestUnbounded == nil {
				bestUnbounded = v
				bestUnboundedTS = ts
			}
			if upTo.includes(fromMicros(ts)) {
				if bestBounded == nil || ts > bestBoundedTS {
					bestBounded = v
					bestBoundedTS = ts
				}
			}
			return true
		}
		if prefix == nil {
			if err := b.ForEach(scan); err != nil {
				return err
			}
		} else {
			if err := b.ForEachPrefix(prefix, scan); err != nil {
				return err
			}
		}

		switch {
		case bestBounded != nil:
			cert, err := s.decode(kind, bestBounded)
			if err != nil {
				return err
			}
			result = GetOneResult{Status: Found, Cert: cert}
		case bestUnbounded != nil:
			result = GetOneResult{Status: ExistsButTooRecent, TooRecent: fromMicros(bestUnboundedTS)}
		default:
			result = GetOneResult{Status: NonExisting}
		}
		return nil
	})
	return result, err
}

func tsOfKey(k []byte) uint64 {
	if len(k) < 8 {
		return 0
	}
	var ts uint64
	for _, b := range k[len(k)-8:] {
		ts = ts<<8 | uint64(b)
	}
	return ts
}

// GetMany returns certificates of kind matching filter, at or before upTo,
// ordered by timestamp ascending, paginated by offset/limit (spec §4.1).
func (s *Store) GetMany(kind types.CertKind, filter Filter, upTo UpTo, offset, limit int) ([]SignedCertificate, error) {
	var out []SignedCertificate
	err := s.kv.ForRead(func(tx storage.Tx) error {
		b, err := tx.Bucket(bucketName(kind))
		if err != nil {
			return err
		}
		type kv struct {
			ts uint64
			v  []byte
		}
		var matches []kv
		scan := func(k, v []byte) bool {
			ts := tsOfKey(k)
			if upTo.includes(fromMicros(ts)) {
				matches = append(matches, kv{ts: ts, v: v})
			}
			return true
		}
		prefix := filterPrefix(filter.F1, filter.F2)
		if prefix == nil {
			err = b.ForEach(scan)
		} else {
			err = b.ForEachPrefix(prefix, scan)
		}
		if err != nil {
			return err
		}
		// bucket iteration is already key-ascending (filter-then-timestamp);
		// a stable re-sort by timestamp guards the no-filter case where
		// entries with different filter prefixes interleave.
		for i := 1; i < len(matches); i++ {
			for j := i; j > 0 && matches[j-1].ts > matches[j].ts; j-- {
				matches[j-1], matches[j] = matches[j], matches[j-1]
			}
		}
		if offset >= len(matches) {
			return nil
		}
		end := len(matches)
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		for _, m := range matches[offset:end] {
			cert, err := s.decode(kind, m.v)
			if err != nil {
				return err
			}
			out = append(out, cert)
		}
		return nil
	})
	return out, err
}

// Timestamps is the per-topic cursor record (spec §4.1 last_timestamps).
type Timestamps struct {
	Common           *time.Time
	ShamirRecovery   *time.Time
	Sequester        *time.Time
	Realm            map[types.RealmID]time.Time
}

// LastTimestamps returns the current per-topic cursors.
func (s *Store) LastTimestamps() (Timestamps, error) {
	out := Timestamps{Realm: map[types.RealmID]time.Time{}}
	err := s.kv.ForRead(func(tx storage.Tx) error {
		tb, err := tx.Bucket(cursorTopicBucket)
		if err != nil {
			return err
		}
		for _, topic := range []types.Topic{types.TopicCommon, types.TopicShamir, types.TopicSequester} {
			v, err := tb.Get([]byte(topic))
			if err != nil {
				return err
			}
			if v == nil {
				continue
			}
			t := decodeTS(v)
			switch topic {
			case types.TopicCommon:
				out.Common = &t
			case types.TopicShamir:
				out.ShamirRecovery = &t
			case types.TopicSequester:
				out.Sequester = &t
			}
		}
		rb, err := tx.Bucket(cursorRealmBucket)
		if err != nil {
			return err
		}
		return rb.ForEach(func(k, v []byte) bool {
			var realm types.RealmID
			copy(realm[:], k)
			out.Realm[realm] = decodeTS(v)
			return true
		})
	})
	return out, err
}

// ForgetAll wipes every locally known certificate and cursor (spec §4.1,
// used when the server state is known to have rolled back).
func (s *Store) ForgetAll() error {
	s.updateLock.Lock()
	defer s.updateLock.Unlock()
	return s.kv.ForWrite(func(tx storage.Tx) error {
		for _, kind := range allKinds {
			b, err := tx.Bucket(bucketName(kind))
			if err != nil {
				return err
			}
			if err := b.DeleteAll(); err != nil {
				return err
			}
		}
		for _, name := range []string{cursorTopicBucket, cursorRealmBucket} {
			b, err := tx.Bucket(name)
			if err != nil {
				return err
			}
			if err := b.DeleteAll(); err != nil {
				return err
			}
		}
		return nil
	})
}

var allKinds = []types.CertKind{
	types.CertUser, types.CertDevice, types.CertUserUpdate, types.CertUserRevocation,
	types.CertRealmRole, types.CertRealmKeyRotation, types.CertRealmName, types.CertRealmArchiving,
	types.CertShamirBrief, types.CertShamirShare, types.CertShamirDeletion,
	types.CertSequesterAuthority, types.CertSequesterService, types.CertSequesterRevoked,
}
