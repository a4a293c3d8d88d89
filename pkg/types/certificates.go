package types

import "time"

// Topic partitions certificates per §3's topic table; each topic has an
// independently monotonic timestamp cursor.
type Topic string

const (
	TopicCommon    Topic = "COMMON"
	TopicRealm     Topic = "REALM"
	TopicShamir    Topic = "SHAMIR"
	TopicSequester Topic = "SEQUESTER"
)

// CertKind enumerates every certificate kind across all topics.
type CertKind string

const (
	CertUser               CertKind = "USER"
	CertDevice             CertKind = "DEVICE"
	CertUserUpdate         CertKind = "USER_UPDATE"
	CertUserRevocation     CertKind = "USER_REVOCATION"
	CertRealmRole          CertKind = "REALM_ROLE"
	CertRealmKeyRotation   CertKind = "REALM_KEY_ROTATION"
	CertRealmName          CertKind = "REALM_NAME"
	CertRealmArchiving     CertKind = "REALM_ARCHIVING"
	CertShamirBrief        CertKind = "SHAMIR_RECOVERY_BRIEF"
	CertShamirShare        CertKind = "SHAMIR_RECOVERY_SHARE"
	CertShamirDeletion     CertKind = "SHAMIR_RECOVERY_DELETION"
	CertSequesterAuthority CertKind = "SEQUESTER_AUTHORITY"
	CertSequesterService   CertKind = "SEQUESTER_SERVICE"
	CertSequesterRevoked   CertKind = "SEQUESTER_REVOKED_SERVICE"
)

// TopicOf returns the topic a certificate kind belongs to.
func TopicOf(k CertKind) Topic {
	switch k {
	case CertUser, CertDevice, CertUserUpdate, CertUserRevocation:
		return TopicCommon
	case CertRealmRole, CertRealmKeyRotation, CertRealmName, CertRealmArchiving:
		return TopicRealm
	case CertShamirBrief, CertShamirShare, CertShamirDeletion:
		return TopicShamir
	case CertSequesterAuthority, CertSequesterService, CertSequesterRevoked:
		return TopicSequester
	default:
		return ""
	}
}

// Author is a tagged union: either a device id, or the organization Root key.
type Author struct {
	IsRoot   bool
	DeviceID DeviceID
}

func RootAuthor() Author { return Author{IsRoot: true} }

func DeviceAuthor(d DeviceID) Author { return Author{DeviceID: d} }

func (a Author) String() string {
	if a.IsRoot {
		return "Root"
	}
	return a.DeviceID.String()
}

// Certificate is the common envelope shared by every certificate kind.
// Payload holds exactly one of the kind-specific structs below, selected by Kind.
type Certificate struct {
	Kind      CertKind
	Author    Author
	Timestamp time.Time
	Payload   any
}

// --- common topic payloads ---

type UserCertificate struct {
	UserID      UserID
	HumanHandle HumanHandle
	PublicKey   []byte
	Profile     UserProfile
}

type DeviceCertificate struct {
	DeviceID    DeviceID
	UserID      UserID
	DeviceLabel DeviceLabel
	VerifyKey   []byte
}

type UserUpdateCertificate struct {
	UserID     UserID
	NewProfile UserProfile
}

type UserRevocationCertificate struct {
	UserID UserID
}

// --- realm topic payloads ---

// RealmID aliases VlobID: spec §3 defines "VlobId (≡ entry id / realm id)" —
// a realm's root vlob id doubles as its realm id.
type RealmID = VlobID

type RealmRoleCertificate struct {
	RealmID RealmID
	UserID  UserID
	Role    *RealmRole // nil means role revoked (no access)
}

type RealmKeyRotationCertificate struct {
	RealmID   RealmID
	KeyIndex  uint64
	KeyCanary []byte
}

type RealmNameCertificate struct {
	RealmID       RealmID
	KeyIndex      uint64
	EncryptedName []byte
}

type RealmArchivingCertificate struct {
	RealmID       RealmID
	Configuration string
}

// --- shamir topic payloads ---

type ShamirRecoveryBriefCertificate struct {
	UserID    UserID
	Threshold uint8
	Shares    map[UserID]uint8
}

type ShamirRecoveryShareCertificate struct {
	UserID       UserID
	RecipientID  UserID
	ShareData    []byte
}

type ShamirRecoveryDeletionCertificate struct {
	UserID            UserID
	DeletedBriefTimestamp time.Time
}

// --- sequester topic payloads ---

type SequesterAuthorityCertificate struct {
	VerifyKey []byte
}

type SequesterServiceCertificate struct {
	ServiceID EnrollmentID
	PublicKey []byte
}

type SequesterRevokedServiceCertificate struct {
	ServiceID EnrollmentID
}
