/*
Package types defines the data model shared by every other package: the
identifiers, certificates, manifests, and role/profile enums a device's
certificate store, validator, and workspace-history cache all operate on.

# Core Types

Identifiers (ids.go):
  - OrganizationID, UserID, DeviceID, RealmID, VlobID, BlockID: the id
    space certificates and manifests reference. Most wrap a uuid.UUID;
    OrganizationID is a validated string.
  - HumanHandle, DeviceLabel: the human-readable names attached to a user
    or device certificate.

Certificates (certificates.go):
  - Certificate is the common envelope (Kind, Author, Timestamp, Payload)
    shared by every certificate kind across the four topics (COMMON, REALM,
    SHAMIR, SEQUESTER).
  - Author is a tagged union: either a DeviceID, or the organization's Root
    key (RootAuthor) used only for organization bootstrap.
  - UserCertificate, DeviceCertificate, RealmRoleCertificate, and friends
    are the per-kind payloads TopicOf groups by topic.

Manifests (manifests.go):
  - UserManifest, WorkspaceManifest, FolderManifest, FileManifest and the
    Envelope they embed describe a realm's directory tree and file history;
    pkg/validator checks these against the certificate state, and
    pkg/historyops/pkg/history serve workspace-history queries over them.

Roles and profiles (roles.go):
  - UserProfile (admin/standard/outsider) and RealmRole (owner/manager/
    contributor/reader) gate which certificates and manifests an author may
    produce; pkg/certstore resolves both at a point in time.

Keys bundles (keys_bundle.go):
  - KeysBundle and its access payload carry the symmetric keys a realm's
    manifests and blocks are encrypted with, opaque outside pkg/validator.

# Integration Points

This package integrates with:

  - pkg/certstore: persists certificates, resolves author/role/revocation
    state from them.
  - pkg/validator: checks manifests and blocks against that state and
    decrypts/encrypts realm data via keys bundles.
  - pkg/certops, pkg/historyops: the write/query operations layered on top
    of certstore and validator.
  - pkg/storage: the BoltDB-backed key/value layer certstore persists onto.

# Thread Safety

Types in this package are plain data: read-safe from multiple goroutines,
write-unsafe without external synchronization. Synchronization for
persisted state lives in pkg/storage/pkg/certstore; in-memory caches
(pkg/history) implement their own locking.
*/
package types
