package certstore

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// bucketName returns the bbolt bucket holding every certificate of one kind.
// Certificates are bucketed per kind (not per topic) for narrower scans;
// uniqueness of the (filter1, filter2, timestamp) key is still guaranteed by
// the topic-wide "strictly increasing timestamp" invariant (spec §3), which
// is a stronger guarantee than kind-wide uniqueness.
func bucketName(kind types.CertKind) string { return "cert:" + string(kind) }

const (
	cursorTopicBucket = "cursor:topic"
	cursorRealmBucket = "cursor:realm"
)

// filterKey packs two 16-byte filters and an 8-byte big-endian microsecond
// timestamp into a single lexicographically sortable key.
func filterKey(filter1, filter2 [16]byte, tsMicros uint64) []byte {
	key := make([]byte, 16+16+8)
	copy(key[0:16], filter1[:])
	copy(key[16:32], filter2[:])
	binary.BigEndian.PutUint64(key[32:40], tsMicros)
	return key
}

func filterPrefix(filter1 *[16]byte, filter2 *[16]byte) []byte {
	switch {
	case filter1 == nil:
		return nil
	case filter2 == nil:
		return filter1[:]
	default:
		out := make([]byte, 32)
		copy(out[0:16], filter1[:])
		copy(out[16:32], filter2[:])
		return out
	}
}

func idFilter(id interface{ Bytes() []byte }) [16]byte {
	var out [16]byte
	copy(out[:], id.Bytes())
	return out
}

var zeroFilter [16]byte

// certFilters derives (filter1, filter2) for a certificate payload, per the
// kind-specific filter table in spec §4.1.
func certFilters(kind types.CertKind, payload any) ([16]byte, [16]byte, error) {
	switch p := payload.(type) {
	case types.UserCertificate:
		return idFilter(p.UserID), zeroFilter, nil
	case types.DeviceCertificate:
		return idFilter(p.UserID), idFilter(p.DeviceID), nil
	case types.UserUpdateCertificate:
		return idFilter(p.UserID), zeroFilter, nil
	case types.UserRevocationCertificate:
		return idFilter(p.UserID), zeroFilter, nil
	case types.RealmRoleCertificate:
		return idFilter(p.RealmID), idFilter(p.UserID), nil
	case types.RealmKeyRotationCertificate:
		return idFilter(p.RealmID), zeroFilter, nil
	case types.RealmNameCertificate:
		return idFilter(p.RealmID), zeroFilter, nil
	case types.RealmArchivingCertificate:
		return idFilter(p.RealmID), zeroFilter, nil
	case types.ShamirRecoveryBriefCertificate:
		return idFilter(p.UserID), zeroFilter, nil
	case types.ShamirRecoveryShareCertificate:
		return idFilter(p.UserID), idFilter(p.RecipientID), nil
	case types.ShamirRecoveryDeletionCertificate:
		return idFilter(p.UserID), zeroFilter, nil
	case types.SequesterAuthorityCertificate:
		return zeroFilter, zeroFilter, nil
	case types.SequesterServiceCertificate:
		return idFilter(p.ServiceID), zeroFilter, nil
	case types.SequesterRevokedServiceCertificate:
		return idFilter(p.ServiceID), zeroFilter, nil
	default:
		return zeroFilter, zeroFilter, fmt.Errorf("certstore: unknown payload type %T for kind %s", payload, kind)
	}
}

func microsOf(t time.Time) uint64 {
	return uint64(t.UnixMicro())
}

func fromMicros(us uint64) time.Time {
	return time.UnixMicro(int64(us)).UTC()
}

func encodeTS(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, microsOf(t))
	return b
}

func decodeTS(b []byte) time.Time {
	if len(b) != 8 {
		return time.Time{}
	}
	return fromMicros(binary.BigEndian.Uint64(b))
}
