package certops

import (
	"context"
	"errors"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// stampAheadRetries bounds the stamp-ahead loop: each server rejection moves
// the re-issue timestamp forward, so a well-behaved server converges in a
// handful of rounds; this is a backstop against a misbehaving one.
const stampAheadRetries = 8

var errTooManyStampAheadRetries = errors.New("certops: server kept demanding a greater timestamp")

// sign builds and signs a certificate of kind authored by this device at ts.
func (o *CertificateOps) sign(kind types.CertKind, ts time.Time, payload any) (certstore.SignedCertificate, error) {
	cert := types.Certificate{
		Kind:      kind,
		Author:    types.DeviceAuthor(o.deviceID),
		Timestamp: ts,
		Payload:   payload,
	}
	signBytes, err := certstore.SigningBytes(cert)
	if err != nil {
		return certstore.SignedCertificate{}, errs.NewInternal(err)
	}
	return certstore.SignedCertificate{Cert: cert, Signature: o.signKey.Sign(signBytes)}, nil
}

// retryStampAhead builds and issues a certificate, starting at ts = now and
// re-building/re-issuing at the server's demanded timestamp each time it
// replies RequireGreaterTimestamp (spec §4.1 "stamp-ahead offsets").
func (o *CertificateOps) retryStampAhead(
	kind certstore.StampAheadKind,
	build func(ts time.Time) (certstore.SignedCertificate, error),
	issue func(cert certstore.SignedCertificate) error,
) error {
	now := o.clock.Now()
	ts := now
	for attempt := 0; attempt < stampAheadRetries; attempt++ {
		cert, err := build(ts)
		if err != nil {
			return err
		}
		err = issue(cert)
		if err == nil {
			return nil
		}
		var rgt *transport.RequireGreaterTimestamp
		if !errors.As(err, &rgt) {
			return err
		}
		ts = certstore.NextStampAhead(kind, now, rgt.T)
	}
	return &errs.Offline{Cause: errTooManyStampAheadRetries}
}

// applyLocally ingests a single self-issued certificate into the local
// store, so the caller's own cursor advances without waiting for the next
// poll (the server already accepted it by the time this runs).
func (o *CertificateOps) applyLocally(topic types.Topic, cert certstore.SignedCertificate) error {
	_, err := o.certs.AddBatch(certstore.Batch{topic: {cert}})
	return err
}

// BootstrapWorkspace implements spec §6.1's bootstrap_workspace: create a
// fresh realm with this device's user as its sole Owner. Returns the new
// realm id.
func (o *CertificateOps) BootstrapWorkspace(ctx context.Context) (types.RealmID, error) {
	realm := types.NewVlobID()
	if err := o.EnsureRealmCreated(ctx, realm); err != nil {
		return types.RealmID{}, err
	}
	return realm, nil
}

// EnsureRealmCreated implements spec §6.1's ensure_realm_created: idempotent
// realm bootstrap (spec §8: "ensure_realm_created(r) is idempotent"). If the
// realm already has a first role certificate for this user, this is a no-op.
func (o *CertificateOps) EnsureRealmCreated(ctx context.Context, realm types.RealmID) error {
	role, err := o.certs.RealmRoleOfUserAt(realm, o.userID, o.clock.Now())
	if err != nil {
		return err
	}
	if role != nil {
		return nil
	}
	owner := types.RealmRoleOwner
	return o.retryStampAhead(certstore.StampAheadRealm,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertRealmRole, ts, types.RealmRoleCertificate{
				RealmID: realm,
				UserID:  o.userID,
				Role:    &owner,
			})
		},
		func(cert certstore.SignedCertificate) error {
			if err := o.cmds.RealmCreate(ctx, cert); err != nil {
				return err
			}
			return o.applyLocally(types.TopicRealm, cert)
		},
	)
}

// ShareRealm implements spec §6.1's share_realm: grant or revoke (role ==
// nil) a recipient's role on realm, wrapping the realm's keys bundle for
// them when granting access. keysBundleAccess is the recipient's personal
// wrapper, produced by the caller from the realm's current keys bundle
// (asymmetric wrapping is out of scope here, same as pkg/validator's
// wrap-key seam — see DESIGN.md).
func (o *CertificateOps) ShareRealm(ctx context.Context, realm types.RealmID, recipient types.UserID, role *types.RealmRole, keysBundleAccess []byte) error {
	return o.retryStampAhead(certstore.StampAheadRealm,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertRealmRole, ts, types.RealmRoleCertificate{
				RealmID: realm,
				UserID:  recipient,
				Role:    role,
			})
		},
		func(cert certstore.SignedCertificate) error {
			if err := o.cmds.RealmShare(ctx, cert, keysBundleAccess); err != nil {
				return err
			}
			return o.applyLocally(types.TopicRealm, cert)
		},
	)
}

// RenameRealm implements spec §6.1's rename_realm: publish a new encrypted
// workspace name at the realm's current key index. encryptedName is
// produced by the caller via Validator.EncryptForRealm.
func (o *CertificateOps) RenameRealm(ctx context.Context, realm types.RealmID, keyIndex uint64, encryptedName []byte) error {
	return o.retryStampAhead(certstore.StampAheadRealm,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertRealmName, ts, types.RealmNameCertificate{
				RealmID:       realm,
				KeyIndex:      keyIndex,
				EncryptedName: encryptedName,
			})
		},
		func(cert certstore.SignedCertificate) error {
			if err := o.cmds.RealmRename(ctx, cert); err != nil {
				return err
			}
			return o.applyLocally(types.TopicRealm, cert)
		},
	)
}

// RotateRealmKeyIdempotent implements spec §6.1's
// rotate_realm_key_idempotent: publish a new key-rotation certificate and
// the freshly re-wrapped bundle/accesses. canary authenticates the new key
// without exposing it (spec §4.2.2 integrity check); bundle and accesses
// are produced by the caller (bundle encryption/wrapping is out of scope
// here, same rationale as ShareRealm's keysBundleAccess).
func (o *CertificateOps) RotateRealmKeyIdempotent(ctx context.Context, realm types.RealmID, keyIndex uint64, canary []byte, bundle []byte, accesses map[types.UserID][]byte) error {
	return o.retryStampAhead(certstore.StampAheadRealm,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertRealmKeyRotation, ts, types.RealmKeyRotationCertificate{
				RealmID:   realm,
				KeyIndex:  keyIndex,
				KeyCanary: canary,
			})
		},
		func(cert certstore.SignedCertificate) error {
			if err := o.cmds.RealmRotateKey(ctx, cert, bundle, accesses); err != nil {
				return err
			}
			return o.applyLocally(types.TopicRealm, cert)
		},
	)
}

// RevokeUser implements spec §6.1's revoke_user.
func (o *CertificateOps) RevokeUser(ctx context.Context, user types.UserID) error {
	return o.retryStampAhead(certstore.StampAheadUserOrDevice,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertUserRevocation, ts, types.UserRevocationCertificate{UserID: user})
		},
		func(cert certstore.SignedCertificate) error {
			if err := o.cmds.UserRevoke(ctx, cert); err != nil {
				return err
			}
			return o.applyLocally(types.TopicCommon, cert)
		},
	)
}

// UpdateUserProfile implements spec §6.1's update_user_profile.
func (o *CertificateOps) UpdateUserProfile(ctx context.Context, user types.UserID, profile types.UserProfile) error {
	return o.retryStampAhead(certstore.StampAheadUserOrDevice,
		func(ts time.Time) (certstore.SignedCertificate, error) {
			return o.sign(types.CertUserUpdate, ts, types.UserUpdateCertificate{UserID: user, NewProfile: profile})
		},
		func(cert certstore.SignedCertificate) error {
			if err := o.cmds.UserUpdate(ctx, cert); err != nil {
				return err
			}
			return o.applyLocally(types.TopicCommon, cert)
		},
	)
}
