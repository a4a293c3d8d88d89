package validator

import (
	"context"
	"crypto/sha256"

	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// ValidateBlock implements spec §4.2.3: decrypt a block with the key at
// keyIndex derived for its own id, then check its content digest against the
// access record the parent file manifest carries.
func (v *Validator) ValidateBlock(ctx context.Context, realm types.RealmID, keyIndex uint64, access types.BlockRef, encrypted []byte) ([]byte, error) {
	bundleKey, err := v.keyAt(ctx, realm, keyIndex)
	if err != nil {
		return nil, err
	}
	blockKey := crypto.DeriveEntryKey(bundleKey, access.ID.Bytes())
	cleartext, err := crypto.Open(blockKey, encrypted)
	if err != nil {
		return nil, errs.ErrInvalidBlockAccess
	}
	if sha256.Sum256(cleartext) != access.Digest {
		return nil, errs.ErrInvalidBlockAccess
	}
	return cleartext, nil
}
