// Package transport defines the downward contract a CertificateOps/validator
// needs from an authenticated connection to the server (spec §6.2). Real
// transport (gRPC, HTTP) is an external collaborator out of scope for this
// core; AuthenticatedCmds is the seam production code wires a concrete
// implementation into.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// CertificateGetResponse groups the raw certificates the server holds after
// the cursors the caller sent (spec §6.2 certificate_get).
type CertificateGetResponse struct {
	Common    []certstore.SignedCertificate
	Sequester []certstore.SignedCertificate
	Shamir    []certstore.SignedCertificate
	Realm     map[types.RealmID][]certstore.SignedCertificate
}

// RealmGetKeysBundleResponse is the successful reply to realm_get_keys_bundle.
// KeysBundle is the realm-wide envelope broadcast to every member;
// KeysBundleAccess is this user's personal wrapper around the full secret key
// material, decrypted with the caller's unwrap key. pkg/validator reads only
// KeysBundleAccess and checks the canary of the bundle decrypted from it
// against the newest RealmKeyRotation certificate; KeysBundle is not read.
type RealmGetKeysBundleResponse struct {
	KeysBundle       []byte
	KeysBundleAccess []byte
}

// RequireGreaterTimestamp is returned by write commands when the server
// demands a re-issue at a later timestamp (spec §4.1 "stamp-ahead offsets").
type RequireGreaterTimestamp struct{ T time.Time }

func (e *RequireGreaterTimestamp) Error() string {
	return fmt.Sprintf("transport: server requires timestamp greater than %s", e.T)
}

var (
	ErrAccessNotAvailableForAuthor = fmt.Errorf("transport: access not available for author")
	ErrAuthorNotAllowed            = fmt.Errorf("transport: author not allowed")
	ErrBadKeyIndex                 = fmt.Errorf("transport: bad key index")
)

// BlockReadResponse is the successful reply to block_read.
type BlockReadResponse struct {
	Encrypted []byte
}

// VlobReadResponse is the successful reply to vlob_read.
type VlobReadResponse struct {
	Encrypted       []byte
	Author          types.Author
	Version         uint64
	Timestamp       time.Time
	KeyIndex        uint64
}

// AuthenticatedCmds is the downward contract (spec §6.2): every send(Req) ->
// Rep exchange the core needs from an authenticated connection. Production
// code supplies a real implementation (gRPC/HTTP); pkg/transport/inmemory
// supplies a deterministic fake used throughout this module's tests.
type AuthenticatedCmds interface {
	CertificateGet(ctx context.Context, cursors certstore.Timestamps) (CertificateGetResponse, error)
	RealmGetKeysBundle(ctx context.Context, realm types.RealmID, keyIndex *uint64) (RealmGetKeysBundleResponse, error)

	RealmCreate(ctx context.Context, cert certstore.SignedCertificate) error
	RealmShare(ctx context.Context, roleCert certstore.SignedCertificate, keysBundleAccess []byte) error
	RealmRename(ctx context.Context, nameCert certstore.SignedCertificate) error
	RealmRotateKey(ctx context.Context, rotationCert certstore.SignedCertificate, bundle []byte, accesses map[types.UserID][]byte) error

	UserCreate(ctx context.Context, userCert, deviceCert certstore.SignedCertificate) error
	UserRevoke(ctx context.Context, cert certstore.SignedCertificate) error
	UserUpdate(ctx context.Context, cert certstore.SignedCertificate) error

	ShamirRecoverySetup(ctx context.Context, briefCert certstore.SignedCertificate, shareCerts []certstore.SignedCertificate) error
	ShamirRecoveryDelete(ctx context.Context, deletionCert certstore.SignedCertificate) error

	BlockCreate(ctx context.Context, realm types.RealmID, block types.BlockID, keyIndex uint64, encrypted []byte) error
	BlockRead(ctx context.Context, block types.BlockID) (BlockReadResponse, error)

	VlobCreate(ctx context.Context, realm types.RealmID, entry types.VlobID, keyIndex uint64, encrypted []byte, timestamp time.Time) error
	VlobRead(ctx context.Context, entry types.VlobID, version *uint64, at *time.Time) (VlobReadResponse, error)
	VlobUpdate(ctx context.Context, entry types.VlobID, keyIndex uint64, version uint64, encrypted []byte, timestamp time.Time) error
}
