package certstore

import (
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// checkContentRules applies the kind-specific rules from spec §4.1 step 3.
func (s *Store) checkContentRules(tx storage.Tx, sc SignedCertificate) error {
	switch p := sc.Cert.Payload.(type) {
	case types.UserRevocationCertificate:
		profile, revokedAt, err := s.userStateAt(tx, p.UserID, sc.Cert.Timestamp)
		if err != nil {
			return err
		}
		if profile == "" {
			return errs.ErrNonExistingAuthor
		}
		if revokedAt != nil {
			return errs.ErrUserAlreadyRevoked
		}
		return nil

	case types.RealmRoleCertificate:
		return s.checkRealmRoleRules(tx, sc.Cert.Author, sc.Cert.Timestamp, p)

	default:
		return nil
	}
}

func (s *Store) checkRealmRoleRules(tx storage.Tx, author types.Author, at time.Time, p types.RealmRoleCertificate) error {
	// Resolve the target user's profile to enforce the Outsider restriction.
	profile, _, err := s.userStateAt(tx, p.UserID, at)
	if err != nil {
		return err
	}
	if p.Role != nil && profile == types.ProfileOutsider && p.Role.IsPrivileged() {
		return errs.ErrRealmOutsiderCannotBeOwnerOrManager
	}

	_, existingAuthor, isFirst, err := s.latestRealmRole(tx, p.RealmID, at)
	if err != nil {
		return err
	}

	if isFirst {
		if p.Role == nil || *p.Role != types.RealmRoleOwner {
			return errs.ErrRealmFirstRoleMustBeOwner
		}
		// Self-signed: the author's own user id must equal the certificate's target.
		authorUser, err := s.userIDOfDevice(tx, author, at)
		if err != nil {
			return err
		}
		if author.IsRoot || authorUser != p.UserID {
			return errs.ErrRealmFirstRoleMustBeSelfSigned
		}
		return nil
	}

	// Role upgrade/downgrade: requires a current Owner, or a current Manager
	// when neither the new role nor the target user's current role is
	// privileged.
	authorUser, err := s.userIDOfDevice(tx, author, at)
	if err != nil {
		return err
	}
	authorRole, _, _, err := s.latestRealmRoleOfUser(tx, p.RealmID, authorUser, at)
	if err != nil {
		return err
	}
	targetRole, _, _, err := s.latestRealmRoleOfUser(tx, p.RealmID, p.UserID, at)
	if err != nil {
		return err
	}
	targetIsPrivileged := p.Role != nil && p.Role.IsPrivileged() || targetRole != nil && targetRole.IsPrivileged()
	if authorRole == nil {
		return errs.ErrRealmAuthorNotOwnerOrManager
	}
	if targetIsPrivileged {
		if *authorRole != types.RealmRoleOwner {
			return errs.ErrRealmAuthorNotOwner
		}
	} else {
		if *authorRole != types.RealmRoleOwner && *authorRole != types.RealmRoleManager {
			return errs.ErrRealmAuthorNotOwnerOrManager
		}
	}
	_ = existingAuthor
	return nil
}

// userStateAt returns the user's effective profile and, if revoked at or
// before at, the revocation timestamp.
func (s *Store) userStateAt(tx storage.Tx, userID types.UserID, at time.Time) (types.UserProfile, *time.Time, error) {
	ub, err := tx.Bucket(bucketName(types.CertUser))
	if err != nil {
		return "", nil, errs.NewInternal(err)
	}
	f1 := idFilter(userID)
	var profile types.UserProfile
	var profileTS uint64
	_ = ub.ForEachPrefix(f1[:], func(k, v []byte) bool {
		ts := tsOfKey(k)
		if fromMicros(ts).After(at) {
			return true
		}
		sc, err := s.decode(types.CertUser, v)
		if err != nil {
			return true
		}
		up := sc.Cert.Payload.(types.UserCertificate)
		if profile == "" || ts > profileTS {
			profile = up.Profile
			profileTS = ts
		}
		return true
	})
	if profile == "" {
		return "", nil, nil
	}

	uub, err := tx.Bucket(bucketName(types.CertUserUpdate))
	if err != nil {
		return "", nil, errs.NewInternal(err)
	}
	_ = uub.ForEachPrefix(f1[:], func(k, v []byte) bool {
		ts := tsOfKey(k)
		if fromMicros(ts).After(at) {
			return true
		}
		sc, err := s.decode(types.CertUserUpdate, v)
		if err != nil {
			return true
		}
		up := sc.Cert.Payload.(types.UserUpdateCertificate)
		if ts > profileTS {
			profile = up.NewProfile
			profileTS = ts
		}
		return true
	})

	rb, err := tx.Bucket(bucketName(types.CertUserRevocation))
	if err != nil {
		return "", nil, errs.NewInternal(err)
	}
	var revokedAt *time.Time
	_ = rb.ForEachPrefix(f1[:], func(k, v []byte) bool {
		ts := tsOfKey(k)
		if fromMicros(ts).After(at) {
			return true
		}
		t := fromMicros(ts)
		revokedAt = &t
		return true
	})
	return profile, revokedAt, nil
}

// latestRealmRole returns the newest role certificate for any user on realm
// at or before at, the author, and whether none exists yet (isFirst).
func (s *Store) latestRealmRole(tx storage.Tx, realm types.RealmID, at time.Time) (*types.RealmRole, types.Author, bool, error) {
	b, err := tx.Bucket(bucketName(types.CertRealmRole))
	if err != nil {
		return nil, types.Author{}, false, errs.NewInternal(err)
	}
	f1 := idFilter(realm)
	found := false
	var role *types.RealmRole
	var author types.Author
	var bestTS uint64
	_ = b.ForEachPrefix(f1[:], func(k, v []byte) bool {
		ts := tsOfKey(k)
		if fromMicros(ts).After(at) {
			return true
		}
		if !found || ts > bestTS {
			sc, err := s.decode(types.CertRealmRole, v)
			if err == nil {
				p := sc.Cert.Payload.(types.RealmRoleCertificate)
				role = p.Role
				author = sc.Cert.Author
				bestTS = ts
				found = true
			}
		}
		return true
	})
	return role, author, !found, nil
}

func (s *Store) latestRealmRoleOfUser(tx storage.Tx, realm types.RealmID, user types.UserID, at time.Time) (*types.RealmRole, types.Author, bool, error) {
	b, err := tx.Bucket(bucketName(types.CertRealmRole))
	if err != nil {
		return nil, types.Author{}, false, errs.NewInternal(err)
	}
	f1 := idFilter(realm)
	f2 := idFilter(user)
	prefix := append(append([]byte{}, f1[:]...), f2[:]...)
	found := false
	var role *types.RealmRole
	var author types.Author
	var bestTS uint64
	_ = b.ForEachPrefix(prefix, func(k, v []byte) bool {
		ts := tsOfKey(k)
		if fromMicros(ts).After(at) {
			return true
		}
		if !found || ts > bestTS {
			sc, err := s.decode(types.CertRealmRole, v)
			if err == nil {
				p := sc.Cert.Payload.(types.RealmRoleCertificate)
				role = p.Role
				author = sc.Cert.Author
				bestTS = ts
				found = true
			}
		}
		return true
	})
	return role, author, found, nil
}

// userIDOfDevice resolves a device author to its owning user id, by scanning
// device certificates for the matching device id.
func (s *Store) userIDOfDevice(tx storage.Tx, author types.Author, at time.Time) (types.UserID, error) {
	if author.IsRoot {
		return types.UserID{}, nil
	}
	b, err := tx.Bucket(bucketName(types.CertDevice))
	if err != nil {
		return types.UserID{}, errs.NewInternal(err)
	}
	target := idFilter(author.DeviceID)
	var userID types.UserID
	var found bool
	_ = b.ForEach(func(k, v []byte) bool {
		if len(k) < 40 {
			return true
		}
		var f2 [16]byte
		copy(f2[:], k[16:32])
		if f2 != target {
			return true
		}
		sc, err := s.decode(types.CertDevice, v)
		if err != nil {
			return true
		}
		dp := sc.Cert.Payload.(types.DeviceCertificate)
		userID = dp.UserID
		found = true
		return false
	})
	if !found {
		return types.UserID{}, errs.ErrNonExistingAuthor
	}
	return userID, nil
}
