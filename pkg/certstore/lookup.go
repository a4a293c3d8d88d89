package certstore

import (
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// DeviceVerifyKey resolves a device id to its published signature verify key,
// exposed for validators that check a manifest/block author's signature
// outside the ingest pipeline.
func (s *Store) DeviceVerifyKey(deviceID types.DeviceID) (crypto.VerifyKey, error) {
	var out crypto.VerifyKey
	err := s.kv.ForRead(func(tx storage.Tx) error {
		key, err := s.resolveVerifyKey(tx, types.DeviceAuthor(deviceID))
		if err != nil {
			return err
		}
		out = key
		return nil
	})
	return out, err
}

// UserStateAt returns a user's effective profile and, if revoked at or
// before at, the revocation timestamp.
func (s *Store) UserStateAt(userID types.UserID, at time.Time) (types.UserProfile, *time.Time, error) {
	var profile types.UserProfile
	var revokedAt *time.Time
	err := s.kv.ForRead(func(tx storage.Tx) error {
		p, r, err := s.userStateAt(tx, userID, at)
		profile, revokedAt = p, r
		return err
	})
	return profile, revokedAt, err
}

// RealmRoleOfUserAt returns the role a user holds on realm at or before at,
// or nil if the user has never been granted a role there.
func (s *Store) RealmRoleOfUserAt(realm types.RealmID, user types.UserID, at time.Time) (*types.RealmRole, error) {
	var role *types.RealmRole
	err := s.kv.ForRead(func(tx storage.Tx) error {
		r, _, _, err := s.latestRealmRoleOfUser(tx, realm, user, at)
		role = r
		return err
	})
	return role, err
}

// UserIDOfDevice resolves a device id to its owning user id at or before at.
func (s *Store) UserIDOfDevice(deviceID types.DeviceID, at time.Time) (types.UserID, error) {
	var userID types.UserID
	err := s.kv.ForRead(func(tx storage.Tx) error {
		u, err := s.userIDOfDevice(tx, types.DeviceAuthor(deviceID), at)
		userID = u
		return err
	})
	return userID, err
}
