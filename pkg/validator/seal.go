package validator

import (
	"context"
	"fmt"

	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// SealManifest is the write-side counterpart of ValidateManifest: it signs m
// with signKey and encrypts it under the realm's current active key, ready
// to hand to vlob_create/vlob_update together with the key index used.
func (v *Validator) SealManifest(ctx context.Context, realm types.RealmID, m types.Manifest, signKey crypto.SigningKey) ([]byte, uint64, error) {
	bundle, err := v.loadKeysBundle(ctx, realm, nil)
	if err != nil {
		return nil, 0, err
	}
	bundleKey, ok := bundle.KeyAt(bundle.KeyIndex)
	if !ok {
		return nil, 0, &errs.InvalidKeysBundle{Cause: errs.ErrKeyNotFound}
	}

	data, err := marshalManifestData(m)
	if err != nil {
		return nil, 0, err
	}
	signature := signKey.Sign(manifestSigningBytes(m.Kind(), data))
	cleartext, err := encodeManifest(m, signature)
	if err != nil {
		return nil, 0, err
	}

	entryID := m.Meta().ID
	entryKey := crypto.DeriveEntryKey(bundleKey, entryID.Bytes())
	sealed, err := crypto.Seal(entryKey, cleartext)
	if err != nil {
		return nil, 0, fmt.Errorf("validator: seal manifest: %w", err)
	}
	return sealed, bundle.KeyIndex, nil
}
