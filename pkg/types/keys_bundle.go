package types

// KeysBundle is the ordered list of symmetric realm keys plus the active
// canary, as produced by a realm key rotation (spec §3).
type KeysBundle struct {
	RealmID  RealmID
	KeyIndex uint64 // index of the last (active) key, monotonically increasing from 1
	Keys     [][]byte
	Canary   []byte
}

// KeyAt returns the key at the given 1-based key index.
func (b *KeysBundle) KeyAt(keyIndex uint64) ([]byte, bool) {
	if keyIndex == 0 || keyIndex > uint64(len(b.Keys)) {
		return nil, false
	}
	return b.Keys[keyIndex-1], true
}

// KeysBundleAccess is a single user's wrapped access to a realm's keys
// bundle, encrypted with that user's asymmetric public key.
type KeysBundleAccess struct {
	RealmID        RealmID
	UserID         UserID
	KeyIndex       uint64
	EncryptedBundle []byte // ciphertext of a serialized KeysBundle
}
