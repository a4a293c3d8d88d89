// Package types defines the core data structures shared across the parsec
// client core: identifiers, certificates, manifests, and the realm keys
// bundle. These types are immutable once constructed and are designed to be
// passed by value or by read-only reference between the certstore,
// validator, and history packages.
package types

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// UserId, DeviceId, VlobId, BlockId, InvitationToken, and EnrollmentId are all
// 128-bit opaque identifiers per spec §3; uuid.UUID is the natural Go carrier.
type (
	UserID          uuid.UUID
	DeviceID        uuid.UUID
	VlobID          uuid.UUID
	BlockID         uuid.UUID
	InvitationToken uuid.UUID
	EnrollmentID    uuid.UUID
)

func NewUserID() UserID               { return UserID(uuid.New()) }
func NewDeviceID() DeviceID           { return DeviceID(uuid.New()) }
func NewVlobID() VlobID               { return VlobID(uuid.New()) }
func NewBlockID() BlockID             { return BlockID(uuid.New()) }
func NewInvitationToken() InvitationToken { return InvitationToken(uuid.New()) }
func NewEnrollmentID() EnrollmentID   { return EnrollmentID(uuid.New()) }

func (id UserID) String() string          { return uuid.UUID(id).String() }
func (id DeviceID) String() string        { return uuid.UUID(id).String() }
func (id VlobID) String() string          { return uuid.UUID(id).String() }
func (id BlockID) String() string         { return uuid.UUID(id).String() }
func (id InvitationToken) String() string { return uuid.UUID(id).String() }
func (id EnrollmentID) String() string    { return uuid.UUID(id).String() }

func (id UserID) Bytes() []byte          { u := uuid.UUID(id); return u[:] }
func (id DeviceID) Bytes() []byte        { u := uuid.UUID(id); return u[:] }
func (id VlobID) Bytes() []byte          { u := uuid.UUID(id); return u[:] }
func (id BlockID) Bytes() []byte         { u := uuid.UUID(id); return u[:] }
func (id InvitationToken) Bytes() []byte { u := uuid.UUID(id); return u[:] }
func (id EnrollmentID) Bytes() []byte    { u := uuid.UUID(id); return u[:] }

// organizationIDPattern enforces spec §3: 1-32 code points, word characters or '-'.
var organizationIDPattern = regexp.MustCompile(`^[\p{L}\p{N}_-]{1,32}$`)

// OrganizationID is a bounded ASCII-or-unicode token.
type OrganizationID string

// ParseOrganizationID validates the invariant from spec §3.
func ParseOrganizationID(s string) (OrganizationID, error) {
	if !organizationIDPattern.MatchString(s) {
		return "", fmt.Errorf("invalid organization id %q: must be 1-32 word/- code points", s)
	}
	return OrganizationID(s), nil
}

func (o OrganizationID) String() string { return string(o) }

// RedactedDomain is the reserved email domain for server-redacted human handles.
const RedactedDomain = "redacted.invalid"

// HumanHandle is an (email, label) pair. Email is validated as ASCII-only.
type HumanHandle struct {
	Email string
	Label string
}

func NewHumanHandle(email, label string) (HumanHandle, error) {
	for i := 0; i < len(email); i++ {
		if email[i] > 127 {
			return HumanHandle{}, fmt.Errorf("human handle email must be ASCII: %q", email)
		}
	}
	if !strings.Contains(email, "@") {
		return HumanHandle{}, fmt.Errorf("human handle email missing @: %q", email)
	}
	return HumanHandle{Email: email, Label: label}, nil
}

// IsRedacted reports whether this handle is a server-redacted placeholder.
func (h HumanHandle) IsRedacted() bool {
	return strings.HasSuffix(h.Email, "@"+RedactedDomain)
}

// DeviceLabel is 1-255 bytes of arbitrary text naming a device.
type DeviceLabel string

func NewDeviceLabel(s string) (DeviceLabel, error) {
	n := len(s)
	if n < 1 || n > 255 {
		return "", fmt.Errorf("device label must be 1-255 bytes, got %d", n)
	}
	return DeviceLabel(s), nil
}
