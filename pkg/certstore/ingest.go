package certstore

import (
	"sort"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// topicOrder fixes the processing order of a batch: common, sequester,
// realm, shamir (spec §4.1 step order), then by embedded timestamp within a
// topic.
var topicOrder = []types.Topic{types.TopicCommon, types.TopicSequester, types.TopicRealm, types.TopicShamir}

// Batch groups raw signed certificates by topic for one AddBatch call.
type Batch map[types.Topic][]SignedCertificate

// IngestReport summarizes one successful AddBatch call.
type IngestReport struct {
	Applied             int
	MaybeRedactedSwitch bool
}

// AddBatch validates and persists every certificate in batch atomically: any
// rule failure aborts the whole batch with *errs.InvalidCertificate and
// leaves the store unchanged (spec §4.1 "Ingest algorithm"). The update lock
// is held for the whole call but never across network I/O — callers fetch
// the server delta before calling AddBatch.
func (s *Store) AddBatch(batch Batch) (IngestReport, error) {
	s.updateLock.Lock()
	defer s.updateLock.Unlock()

	var report IngestReport
	err := s.kv.ForWrite(func(tx storage.Tx) error {
		for _, topic := range topicOrder {
			certs := append([]SignedCertificate(nil), batch[topic]...)
			sort.Slice(certs, func(i, j int) bool { return certs[i].Cert.Timestamp.Before(certs[j].Cert.Timestamp) })
			for _, sc := range certs {
				switched, err := s.ingestOne(tx, topic, sc)
				if err != nil {
					return err
				}
				report.Applied++
				report.MaybeRedactedSwitch = report.MaybeRedactedSwitch || switched
			}
		}
		return nil
	})
	return report, err
}

func (s *Store) ingestOne(tx storage.Tx, topic types.Topic, sc SignedCertificate) (bool, error) {
	// 1. Verify signature against the claimed author's device verify key.
	verifyKey, err := s.resolveVerifyKey(tx, sc.Cert.Author)
	if err != nil {
		return false, &errs.InvalidCertificate{Reason: err}
	}
	signBytes, err := SigningBytes(sc.Cert)
	if err != nil {
		return false, &errs.InvalidCertificate{Reason: errs.ErrBadSerialization}
	}
	if err := verifyKey.Verify(signBytes, sc.Signature); err != nil {
		return false, &errs.InvalidCertificate{Reason: errs.ErrInvalidSignature}
	}

	// 2. Timestamp strictly greater than the topic/realm cursor.
	lastTS, err := s.readCursor(tx, topic, realmOf(sc.Cert.Payload))
	if err != nil {
		return false, err
	}
	if lastTS != nil && !sc.Cert.Timestamp.After(*lastTS) {
		return false, &errs.InvalidCertificate{Reason: &errs.InvalidTimestamp{LastTimestamp: *lastTS, Got: sc.Cert.Timestamp}}
	}

	// 3. Topic-specific content rules.
	if err := s.checkContentRules(tx, sc); err != nil {
		return false, &errs.InvalidCertificate{Reason: err}
	}

	redactedSwitch, err := s.detectRedactedSwitch(tx, sc)
	if err != nil {
		return false, err
	}

	// 4. Persist; advance cursors.
	filter1, filter2, err := certFilters(sc.Cert.Kind, sc.Cert.Payload)
	if err != nil {
		return false, &errs.InvalidCertificate{Reason: err}
	}
	sealed, err := s.encode(sc)
	if err != nil {
		return false, errs.NewInternal(err)
	}
	b, err := tx.Bucket(bucketName(sc.Cert.Kind))
	if err != nil {
		return false, errs.NewInternal(err)
	}
	key := filterKey(filter1, filter2, microsOf(sc.Cert.Timestamp))
	if existing, _ := b.Get(key); existing != nil {
		return false, &errs.InvalidCertificate{Reason: errs.ErrAlreadyExists}
	}
	if err := b.Put(key, sealed); err != nil {
		return false, errs.NewInternal(err)
	}
	if err := s.advanceCursor(tx, topic, realmOf(sc.Cert.Payload), sc.Cert.Timestamp); err != nil {
		return false, err
	}
	return redactedSwitch, nil
}

// detectRedactedSwitch reports MaybeRedactedSwitch (spec §4.1): whether
// ingesting a User certificate changes the redacted/full form the store
// holds for that user, by comparing the incoming handle's redacted status
// against the newest one already on file.
func (s *Store) detectRedactedSwitch(tx storage.Tx, sc SignedCertificate) (bool, error) {
	up, ok := sc.Cert.Payload.(types.UserCertificate)
	if !ok {
		return false, nil
	}
	b, err := tx.Bucket(bucketName(types.CertUser))
	if err != nil {
		return false, errs.NewInternal(err)
	}
	f1 := idFilter(up.UserID)
	var prevRedacted *bool
	var bestTS uint64
	_ = b.ForEachPrefix(f1[:], func(k, v []byte) bool {
		ts := tsOfKey(k)
		if prevRedacted == nil || ts > bestTS {
			prev, err := s.decode(types.CertUser, v)
			if err == nil {
				pv := prev.Cert.Payload.(types.UserCertificate)
				r := pv.HumanHandle.IsRedacted()
				prevRedacted = &r
				bestTS = ts
			}
		}
		return true
	})
	if prevRedacted == nil {
		return false, nil
	}
	return *prevRedacted != up.HumanHandle.IsRedacted(), nil
}

func realmOf(payload any) *types.RealmID {
	switch p := payload.(type) {
	case types.RealmRoleCertificate:
		return &p.RealmID
	case types.RealmKeyRotationCertificate:
		return &p.RealmID
	case types.RealmNameCertificate:
		return &p.RealmID
	case types.RealmArchivingCertificate:
		return &p.RealmID
	default:
		return nil
	}
}

func (s *Store) resolveVerifyKey(tx storage.Tx, author types.Author) (crypto.VerifyKey, error) {
	if author.IsRoot {
		return s.rootVerifyKey, nil
	}
	b, err := tx.Bucket(bucketName(types.CertDevice))
	if err != nil {
		return crypto.VerifyKey{}, errs.NewInternal(err)
	}
	var found *types.DeviceCertificate
	var foundRaw []byte
	prefix := idFilter(author.DeviceID)
	// Device certificates are filtered by (userID, deviceID); deviceID is
	// filter2, so we must scan (no userID known yet) — acceptable given the
	// small, local-device certificate volume this store holds.
	_ = b.ForEach(func(k, v []byte) bool {
		if len(k) < 40 {
			return true
		}
		var f2 [16]byte
		copy(f2[:], k[16:32])
		if f2 != prefix {
			return true
		}
		foundRaw = v
		return false
	})
	if foundRaw == nil {
		return crypto.VerifyKey{}, errs.ErrNonExistingAuthor
	}
	sc, err := s.decode(types.CertDevice, foundRaw)
	if err != nil {
		return crypto.VerifyKey{}, err
	}
	dev := sc.Cert.Payload.(types.DeviceCertificate)
	found = &dev
	return crypto.NewVerifyKey(found.VerifyKey)
}

func (s *Store) readCursor(tx storage.Tx, topic types.Topic, realm *types.RealmID) (*time.Time, error) {
	if topic == types.TopicRealm && realm != nil {
		rb, err := tx.Bucket(cursorRealmBucket)
		if err != nil {
			return nil, errs.NewInternal(err)
		}
		v, err := rb.Get(realm.Bytes())
		if err != nil {
			return nil, errs.NewInternal(err)
		}
		if v == nil {
			return nil, nil
		}
		t := decodeTS(v)
		return &t, nil
	}
	tb, err := tx.Bucket(cursorTopicBucket)
	if err != nil {
		return nil, errs.NewInternal(err)
	}
	v, err := tb.Get([]byte(topic))
	if err != nil {
		return nil, errs.NewInternal(err)
	}
	if v == nil {
		return nil, nil
	}
	t := decodeTS(v)
	return &t, nil
}

func (s *Store) advanceCursor(tx storage.Tx, topic types.Topic, realm *types.RealmID, ts time.Time) error {
	if topic == types.TopicRealm && realm != nil {
		rb, err := tx.Bucket(cursorRealmBucket)
		if err != nil {
			return errs.NewInternal(err)
		}
		return rb.Put(realm.Bytes(), encodeTS(ts))
	}
	tb, err := tx.Bucket(cursorTopicBucket)
	if err != nil {
		return errs.NewInternal(err)
	}
	return tb.Put([]byte(topic), encodeTS(ts))
}
