package certops

import (
	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

func filterOf(id interface{ Bytes() []byte }) *[16]byte {
	var f [16]byte
	copy(f[:], id.Bytes())
	return &f
}

// UserInfo is one row of list_users (spec §6.1): the user certificate plus
// whatever revocation is on file for them.
type UserInfo struct {
	User    types.UserCertificate
	Revoked bool
}

// ListUsers implements spec §6.1's list_users: every known user, newest
// certificate per user id.
func (o *CertificateOps) ListUsers() ([]UserInfo, error) {
	certs, err := o.certs.GetMany(types.CertUser, certstore.NoFilter(), certstore.Current(), 0, 0)
	if err != nil {
		return nil, err
	}
	// GetMany orders ascending by timestamp, so the last certificate seen for
	// a user id is that user's newest.
	newest := map[types.UserID]types.UserCertificate{}
	order := make([]types.UserID, 0, len(certs))
	for _, sc := range certs {
		up := sc.Cert.Payload.(types.UserCertificate)
		if _, seen := newest[up.UserID]; !seen {
			order = append(order, up.UserID)
		}
		newest[up.UserID] = up
	}
	out := make([]UserInfo, 0, len(order))
	for _, userID := range order {
		up := newest[userID]
		info := UserInfo{User: up}
		revocations, err := o.certs.GetMany(types.CertUserRevocation, certstore.Filter{F1: filterOf(up.UserID)}, certstore.Current(), 0, 0)
		if err != nil {
			return nil, err
		}
		if len(revocations) > 0 {
			info.Revoked = true
		}
		out = append(out, info)
	}
	return out, nil
}

// ListUserDevices implements spec §6.1's list_user_devices: every device
// certificate filed under user, oldest first.
func (o *CertificateOps) ListUserDevices(user types.UserID) ([]types.DeviceCertificate, error) {
	certs, err := o.certs.GetMany(types.CertDevice, certstore.Filter{F1: filterOf(user)}, certstore.Current(), 0, 0)
	if err != nil {
		return nil, err
	}
	out := make([]types.DeviceCertificate, 0, len(certs))
	for _, sc := range certs {
		out = append(out, sc.Cert.Payload.(types.DeviceCertificate))
	}
	return out, nil
}

// WorkspaceUserRole pairs a user with their current role on a realm.
type WorkspaceUserRole struct {
	UserID types.UserID
	Role   types.RealmRole
}

// ListWorkspaceUsers implements spec §6.1's list_workspace_users: the
// current (non-revoked-role) membership of realm, derived by folding every
// role certificate filed under it and keeping only users whose latest role
// is non-nil.
func (o *CertificateOps) ListWorkspaceUsers(realm types.RealmID) ([]WorkspaceUserRole, error) {
	certs, err := o.certs.GetMany(types.CertRealmRole, certstore.Filter{F1: filterOf(realm)}, certstore.Current(), 0, 0)
	if err != nil {
		return nil, err
	}
	// GetMany orders ascending by timestamp, so the last entry per user id
	// is that user's current role.
	latest := map[types.UserID]*types.RealmRole{}
	order := make([]types.UserID, 0)
	for _, sc := range certs {
		rp := sc.Cert.Payload.(types.RealmRoleCertificate)
		if _, seen := latest[rp.UserID]; !seen {
			order = append(order, rp.UserID)
		}
		latest[rp.UserID] = rp.Role
	}
	out := make([]WorkspaceUserRole, 0, len(order))
	for _, userID := range order {
		if role := latest[userID]; role != nil {
			out = append(out, WorkspaceUserRole{UserID: userID, Role: *role})
		}
	}
	return out, nil
}
