package validator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/metrics"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

var errEnvelopeMismatch = errors.New("validator: decrypted envelope does not match expected fields")

// ValidateManifestInput carries the parameters of spec §4.2.1's
// validate_manifest entry point: the (needed_*_ts, realm_id, key_index,
// entry_id?, author, expected_version, expected_ts) tuple plus the opaque
// bytes fetched from the server.
type ValidateManifestInput struct {
	NeededCommonTS     time.Time
	NeededRealmTS      time.Time
	RealmID            types.RealmID
	KeyIndex           uint64
	EntryID            *types.VlobID
	Author             types.DeviceID
	ExpectedVersion    uint32
	ExpectedTimestamp  time.Time
	Encrypted          []byte
}

// ValidateManifest runs the ten-step algorithm of spec §4.2.1.
func (v *Validator) ValidateManifest(ctx context.Context, in ValidateManifestInput) (types.Manifest, error) {
	// 1. Catch up local cursors if they lag what this validation needs.
	if v.waiter != nil {
		if err := v.waiter.WaitForCursors(ctx, in.NeededCommonTS, in.NeededRealmTS, in.RealmID); err != nil {
			return nil, err
		}
	}

	// 2-3. Resolve the bundle key at key_index and derive the per-entry key.
	bundleKey, err := v.keyAt(ctx, in.RealmID, in.KeyIndex)
	if err != nil {
		return nil, err
	}
	entryID := in.RealmID
	if in.EntryID != nil {
		entryID = *in.EntryID
	}
	entryKey := crypto.DeriveEntryKey(bundleKey, entryID.Bytes())

	// 4. Decrypt.
	cleartext, err := crypto.Open(entryKey, in.Encrypted)
	if err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("cannot_decrypt").Inc()
		return nil, &errs.InvalidManifest{Reason: errs.ErrCannotDecrypt}
	}

	we, err := decodeManifestEnvelope(cleartext)
	if err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("cannot_decrypt").Inc()
		return nil, &errs.InvalidManifest{Reason: errs.ErrCannotDecrypt}
	}

	// 5. Verify the author's signature over (kind, data).
	verifyKey, err := v.certs.DeviceVerifyKey(in.Author)
	if err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("unknown_author").Inc()
		return nil, &errs.InvalidManifest{Reason: err}
	}
	if err := verifyKey.Verify(manifestSigningBytes(we.Kind, we.Data), we.Signature); err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("invalid_signature").Inc()
		return nil, &errs.InvalidManifest{Reason: errs.ErrInvalidSignature}
	}

	manifest, err := decodeManifestPayload(we.Kind, we.Data)
	if err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("bad_serialization").Inc()
		return nil, &errs.InvalidManifest{Reason: errs.ErrBadSerialization}
	}

	// 6. Envelope checks.
	meta := manifest.Meta()
	if meta.Author != in.Author || !meta.Timestamp.Equal(in.ExpectedTimestamp) || meta.Version != in.ExpectedVersion {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("envelope_mismatch").Inc()
		return nil, &errs.InvalidManifest{Reason: errEnvelopeMismatch}
	}
	if in.EntryID != nil && meta.ID != *in.EntryID {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("envelope_mismatch").Inc()
		return nil, &errs.InvalidManifest{Reason: errEnvelopeMismatch}
	}

	// 7. Author-role check at expected_ts.
	authorUser, err := v.certs.UserIDOfDevice(in.Author, in.ExpectedTimestamp)
	if err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("unknown_author").Inc()
		return nil, &errs.InvalidManifest{Reason: err}
	}
	if we.Kind != types.ManifestUser {
		role, err := v.certs.RealmRoleOfUserAt(in.RealmID, authorUser, in.ExpectedTimestamp)
		if err != nil {
			metrics.ValidatorManifestRejectedTotal.WithLabelValues("unknown_author").Inc()
			return nil, &errs.InvalidManifest{Reason: err}
		}
		if role == nil || !role.IsAtLeastContributor() {
			metrics.ValidatorManifestRejectedTotal.WithLabelValues("author_role_cannot_write").Inc()
			return nil, errs.ErrAuthorRealmRoleCannotWrite
		}
	}

	// 8. Author-not-revoked check at expected_ts.
	_, revokedAt, err := v.certs.UserStateAt(authorUser, in.ExpectedTimestamp)
	if err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("unknown_author").Inc()
		return nil, &errs.InvalidManifest{Reason: err}
	}
	if revokedAt != nil && !revokedAt.After(in.ExpectedTimestamp) {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("revoked_author").Inc()
		return nil, errs.ErrRevokedAuthor
	}

	// 9. Kind-specific structural checks (spec §3 manifest invariants).
	if err := checkStructuralInvariants(manifest); err != nil {
		metrics.ValidatorManifestRejectedTotal.WithLabelValues("structural_invariant").Inc()
		return nil, &errs.InvalidManifest{Reason: err}
	}

	return manifest, nil
}

func checkStructuralInvariants(m types.Manifest) error {
	switch mm := m.(type) {
	case *types.WorkspaceManifest:
		return checkChildrenNoSelfAlias(mm.ID, mm.Children)
	case *types.FolderManifest:
		if mm.Parent == mm.ID {
			return fmt.Errorf("validator: folder %s is its own parent", mm.ID)
		}
		return checkChildrenNoSelfAlias(mm.ID, mm.Children)
	case *types.FileManifest:
		return checkFileBlocks(mm)
	case *types.UserManifest:
		return checkChildrenNoSelfAlias(mm.ID, mm.Children)
	default:
		return nil
	}
}

func checkChildrenNoSelfAlias(self types.VlobID, children map[string]types.VlobID) error {
	for name, child := range children {
		if child == self {
			return fmt.Errorf("validator: entry %q aliases its own parent %s", name, self)
		}
	}
	return nil
}

func checkFileBlocks(m *types.FileManifest) error {
	if m.Blocksize == 0 || m.Blocksize&(m.Blocksize-1) != 0 || m.Blocksize < 8 {
		return fmt.Errorf("%w: blocksize %d must be a power of two >= 8", errs.ErrInvalidFileContent, m.Blocksize)
	}
	var prevEnd uint64
	for i, b := range m.Blocks {
		if b.Size == 0 {
			return fmt.Errorf("%w: block %d has zero size", errs.ErrInvalidFileContent, i)
		}
		if b.Offset+b.Size < b.Offset {
			return fmt.Errorf("%w: block %d overflows", errs.ErrInvalidFileContent, i)
		}
		if i > 0 && b.Offset < prevEnd {
			return fmt.Errorf("%w: block %d overlaps the previous block", errs.ErrInvalidFileContent, i)
		}
		end := b.Offset + b.Size
		if end > m.Size {
			return fmt.Errorf("%w: block %d extends past manifest size %d", errs.ErrInvalidFileContent, i, m.Size)
		}
		spanStart := (b.Offset / m.Blocksize) * m.Blocksize
		spanEnd := spanStart + m.Blocksize
		if b.Offset < spanStart || end > spanEnd {
			return fmt.Errorf("%w: block %d does not fit within one block-span", errs.ErrInvalidFileContent, i)
		}
		prevEnd = end
	}
	return nil
}
