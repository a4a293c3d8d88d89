package crypto

import "crypto/sha256"

// DeriveEntryKey derives a per-entry symmetric key from a realm bundle key
// and an entry id (spec §4.2.1 step 3: "deterministic HKDF-like derivation").
// A single SHA-256 hash over the bundle key, a fixed label and the entry id
// is sufficient here because the
// bundle key already has full entropy; this mirrors the teacher's
// single-round DeriveKeyFromClusterID rather than pulling in a dedicated HKDF
// dependency no example in the pack provides.
func DeriveEntryKey(bundleKey []byte, entryID []byte) [KeySize]byte {
	h := sha256.New()
	h.Write(bundleKey)
	h.Write([]byte("parsec-entry-key-v1"))
	h.Write(entryID)
	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}
