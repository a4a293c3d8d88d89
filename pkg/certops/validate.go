package certops

import (
	"context"
	"fmt"

	"github.com/parsec-cloud/parsec-client-go/pkg/types"
	"github.com/parsec-cloud/parsec-client-go/pkg/validator"
)

// Validator is the subset of *validator.Validator CertificateOps delegates
// manifest/block validation and realm encryption to, kept as an interface so
// tests can substitute a fake without constructing a real keys-bundle cache.
type Validator interface {
	ValidateManifest(ctx context.Context, in validator.ValidateManifestInput) (types.Manifest, error)
	ValidateBlock(ctx context.Context, realm types.RealmID, keyIndex uint64, access types.BlockRef, encrypted []byte) ([]byte, error)
	EncryptForRealm(ctx context.Context, realm types.RealmID, payload []byte) ([]byte, uint64, error)
	DecryptOpaqueDataForRealm(ctx context.Context, realm types.RealmID, keyIndex uint64, ciphertext []byte) ([]byte, error)
}

// WithValidator attaches v so CertificateOps can serve the
// validate_*/encrypt_for_realm/decrypt_opaque_data_for_realm operations of
// spec §6.1. Kept as a post-construction setter (rather than a New
// parameter) because pkg/validator.New itself takes a CursorWaiter usually
// satisfied by this same CertificateOps, and the two must be wired up after
// both exist.
func (o *CertificateOps) WithValidator(v Validator) *CertificateOps {
	o.validator = v
	return o
}

func (o *CertificateOps) mustValidator() (Validator, error) {
	if o.validator == nil {
		return nil, fmt.Errorf("certops: no validator attached (call WithValidator first)")
	}
	return o.validator, nil
}

// ValidateUserManifest implements spec §6.1's validate_user_manifest.
func (o *CertificateOps) ValidateUserManifest(ctx context.Context, in validator.ValidateManifestInput) (*types.UserManifest, error) {
	v, err := o.mustValidator()
	if err != nil {
		return nil, err
	}
	m, err := v.ValidateManifest(ctx, in)
	if err != nil {
		return nil, err
	}
	um, ok := m.(*types.UserManifest)
	if !ok {
		return nil, fmt.Errorf("certops: expected a user manifest, got %T", m)
	}
	return um, nil
}

// ValidateWorkspaceManifest implements spec §6.1's
// validate_workspace_manifest.
func (o *CertificateOps) ValidateWorkspaceManifest(ctx context.Context, in validator.ValidateManifestInput) (*types.WorkspaceManifest, error) {
	v, err := o.mustValidator()
	if err != nil {
		return nil, err
	}
	m, err := v.ValidateManifest(ctx, in)
	if err != nil {
		return nil, err
	}
	wm, ok := m.(*types.WorkspaceManifest)
	if !ok {
		return nil, fmt.Errorf("certops: expected a workspace manifest, got %T", m)
	}
	return wm, nil
}

// ValidateChildManifest implements spec §6.1's validate_child_manifest: a
// folder or file manifest, distinguished by its own Kind().
func (o *CertificateOps) ValidateChildManifest(ctx context.Context, in validator.ValidateManifestInput) (types.Manifest, error) {
	v, err := o.mustValidator()
	if err != nil {
		return nil, err
	}
	m, err := v.ValidateManifest(ctx, in)
	if err != nil {
		return nil, err
	}
	switch m.(type) {
	case *types.FolderManifest, *types.FileManifest:
		return m, nil
	default:
		return nil, fmt.Errorf("certops: expected a folder or file manifest, got %T", m)
	}
}

// ValidateBlock implements spec §6.1's validate_block.
func (o *CertificateOps) ValidateBlock(ctx context.Context, realm types.RealmID, keyIndex uint64, access types.BlockRef, encrypted []byte) ([]byte, error) {
	v, err := o.mustValidator()
	if err != nil {
		return nil, err
	}
	return v.ValidateBlock(ctx, realm, keyIndex, access, encrypted)
}

// EncryptForRealm implements spec §6.1's encrypt_for_realm.
func (o *CertificateOps) EncryptForRealm(ctx context.Context, realm types.RealmID, payload []byte) ([]byte, uint64, error) {
	v, err := o.mustValidator()
	if err != nil {
		return nil, 0, err
	}
	return v.EncryptForRealm(ctx, realm, payload)
}

// DecryptOpaqueDataForRealm implements spec §6.1's
// decrypt_opaque_data_for_realm.
func (o *CertificateOps) DecryptOpaqueDataForRealm(ctx context.Context, realm types.RealmID, keyIndex uint64, ciphertext []byte) ([]byte, error) {
	v, err := o.mustValidator()
	if err != nil {
		return nil, err
	}
	return v.DecryptOpaqueDataForRealm(ctx, realm, keyIndex, ciphertext)
}
