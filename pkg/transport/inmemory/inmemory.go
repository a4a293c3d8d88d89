// Package inmemory provides a deterministic, in-process AuthenticatedCmds
// implementation used by this module's tests, grounded on the teacher's
// test/framework/client.go fake-client style (a thin wrapper standing in for
// the real network client).
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

type vlobVersion struct {
	encrypted []byte
	author    types.Author
	timestamp time.Time
	keyIndex  uint64
}

type realmKeys struct {
	bundle   []byte
	accesses map[types.UserID][]byte
}

// Server is an in-memory stand-in for the Parsec server, shared by every
// Client created against it.
type Server struct {
	mu sync.Mutex

	common    []certstore.SignedCertificate
	sequester []certstore.SignedCertificate
	shamir    []certstore.SignedCertificate
	realm     map[types.RealmID][]certstore.SignedCertificate

	keys map[types.RealmID]realmKeys

	blocks map[types.BlockID][]byte
	vlobs  map[types.VlobID][]vlobVersion
}

func NewServer() *Server {
	return &Server{
		realm:  map[types.RealmID][]certstore.SignedCertificate{},
		keys:   map[types.RealmID]realmKeys{},
		blocks: map[types.BlockID][]byte{},
		vlobs:  map[types.VlobID][]vlobVersion{},
	}
}

// SeedKeysBundle installs a realm's keys bundle/access without going through
// RealmRotateKey, for tests that only need validator-level coverage.
func (s *Server) SeedKeysBundle(realm types.RealmID, user types.UserID, bundle, access []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rk := s.keys[realm]
	if rk.accesses == nil {
		rk.accesses = map[types.UserID][]byte{}
	}
	rk.bundle = bundle
	rk.accesses[user] = access
	s.keys[realm] = rk
}

// SeedBlock installs a block's encrypted content directly.
func (s *Server) SeedBlock(id types.BlockID, encrypted []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[id] = encrypted
}

// Client is a per-device handle onto Server implementing transport.AuthenticatedCmds.
type Client struct {
	srv  *Server
	user types.UserID
}

func NewClient(srv *Server, user types.UserID) *Client { return &Client{srv: srv, user: user} }

var _ transport.AuthenticatedCmds = (*Client)(nil)

func (c *Client) CertificateGet(_ context.Context, cursors certstore.Timestamps) (transport.CertificateGetResponse, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	after := func(certs []certstore.SignedCertificate, cursor *time.Time) []certstore.SignedCertificate {
		if cursor == nil {
			return append([]certstore.SignedCertificate(nil), certs...)
		}
		var out []certstore.SignedCertificate
		for _, sc := range certs {
			if sc.Cert.Timestamp.After(*cursor) {
				out = append(out, sc)
			}
		}
		return out
	}
	resp := transport.CertificateGetResponse{
		Common:    after(c.srv.common, cursors.Common),
		Sequester: after(c.srv.sequester, cursors.Sequester),
		Shamir:    after(c.srv.shamir, cursors.ShamirRecovery),
		Realm:     map[types.RealmID][]certstore.SignedCertificate{},
	}
	for realm, certs := range c.srv.realm {
		cursor, ok := cursors.Realm[realm]
		var cp *time.Time
		if ok {
			cp = &cursor
		}
		if filtered := after(certs, cp); len(filtered) > 0 {
			resp.Realm[realm] = filtered
		}
	}
	return resp, nil
}

func (c *Client) RealmGetKeysBundle(_ context.Context, realm types.RealmID, keyIndex *uint64) (transport.RealmGetKeysBundleResponse, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	rk, ok := c.srv.keys[realm]
	if !ok {
		return transport.RealmGetKeysBundleResponse{}, transport.ErrAccessNotAvailableForAuthor
	}
	access, ok := rk.accesses[c.user]
	if !ok {
		return transport.RealmGetKeysBundleResponse{}, transport.ErrAccessNotAvailableForAuthor
	}
	_ = keyIndex // the fake always serves the current bundle; key index is validated by the caller.
	return transport.RealmGetKeysBundleResponse{KeysBundle: rk.bundle, KeysBundleAccess: access}, nil
}

func (c *Client) RealmCreate(_ context.Context, cert certstore.SignedCertificate) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	realm := *realmOf(cert)
	c.srv.realm[realm] = append(c.srv.realm[realm], cert)
	return nil
}

func (c *Client) RealmShare(_ context.Context, roleCert certstore.SignedCertificate, keysBundleAccess []byte) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	realm := *realmOf(roleCert)
	c.srv.realm[realm] = append(c.srv.realm[realm], roleCert)
	p := roleCert.Cert.Payload.(types.RealmRoleCertificate)
	rk := c.srv.keys[realm]
	if rk.accesses == nil {
		rk.accesses = map[types.UserID][]byte{}
	}
	rk.accesses[p.UserID] = keysBundleAccess
	c.srv.keys[realm] = rk
	return nil
}

func (c *Client) RealmRename(_ context.Context, nameCert certstore.SignedCertificate) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	realm := *realmOf(nameCert)
	c.srv.realm[realm] = append(c.srv.realm[realm], nameCert)
	return nil
}

func (c *Client) RealmRotateKey(_ context.Context, rotationCert certstore.SignedCertificate, bundle []byte, accesses map[types.UserID][]byte) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	realm := *realmOf(rotationCert)
	c.srv.realm[realm] = append(c.srv.realm[realm], rotationCert)
	rk := realmKeys{bundle: bundle, accesses: map[types.UserID][]byte{}}
	for u, a := range accesses {
		rk.accesses[u] = a
	}
	c.srv.keys[realm] = rk
	return nil
}

func (c *Client) UserCreate(_ context.Context, userCert, deviceCert certstore.SignedCertificate) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.common = append(c.srv.common, userCert, deviceCert)
	return nil
}

func (c *Client) UserRevoke(_ context.Context, cert certstore.SignedCertificate) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.common = append(c.srv.common, cert)
	return nil
}

func (c *Client) UserUpdate(_ context.Context, cert certstore.SignedCertificate) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.common = append(c.srv.common, cert)
	return nil
}

func (c *Client) ShamirRecoverySetup(_ context.Context, briefCert certstore.SignedCertificate, shareCerts []certstore.SignedCertificate) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.shamir = append(c.srv.shamir, briefCert)
	c.srv.shamir = append(c.srv.shamir, shareCerts...)
	return nil
}

func (c *Client) ShamirRecoveryDelete(_ context.Context, deletionCert certstore.SignedCertificate) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.shamir = append(c.srv.shamir, deletionCert)
	return nil
}

func (c *Client) BlockCreate(_ context.Context, _ types.RealmID, block types.BlockID, _ uint64, encrypted []byte) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.blocks[block] = encrypted
	return nil
}

func (c *Client) BlockRead(_ context.Context, block types.BlockID) (transport.BlockReadResponse, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	enc, ok := c.srv.blocks[block]
	if !ok {
		return transport.BlockReadResponse{}, transport.ErrBadKeyIndex
	}
	return transport.BlockReadResponse{Encrypted: enc}, nil
}

func (c *Client) VlobCreate(_ context.Context, _ types.RealmID, entry types.VlobID, keyIndex uint64, encrypted []byte, timestamp time.Time) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.vlobs[entry] = append(c.srv.vlobs[entry], vlobVersion{
		encrypted: encrypted,
		author:    types.DeviceAuthor(types.DeviceID{}),
		timestamp: timestamp,
		keyIndex:  keyIndex,
	})
	return nil
}

func (c *Client) VlobRead(_ context.Context, entry types.VlobID, version *uint64, at *time.Time) (transport.VlobReadResponse, error) {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	versions := c.srv.vlobs[entry]
	if len(versions) == 0 {
		return transport.VlobReadResponse{}, transport.ErrBadKeyIndex
	}
	var idx int
	switch {
	case version != nil:
		idx = int(*version) - 1
	case at != nil:
		idx = -1
		for i, v := range versions {
			if !v.timestamp.After(*at) {
				idx = i
			}
		}
		if idx < 0 {
			return transport.VlobReadResponse{}, transport.ErrBadKeyIndex
		}
	default:
		idx = len(versions) - 1
	}
	if idx < 0 || idx >= len(versions) {
		return transport.VlobReadResponse{}, transport.ErrBadKeyIndex
	}
	v := versions[idx]
	return transport.VlobReadResponse{
		Encrypted: v.encrypted,
		Author:    v.author,
		Version:   uint64(idx + 1),
		Timestamp: v.timestamp,
		KeyIndex:  v.keyIndex,
	}, nil
}

func (c *Client) VlobUpdate(_ context.Context, entry types.VlobID, keyIndex uint64, _ uint64, encrypted []byte, timestamp time.Time) error {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	c.srv.vlobs[entry] = append(c.srv.vlobs[entry], vlobVersion{
		encrypted: encrypted,
		timestamp: timestamp,
		keyIndex:  keyIndex,
	})
	return nil
}

func realmOf(sc certstore.SignedCertificate) *types.RealmID {
	switch p := sc.Cert.Payload.(type) {
	case types.RealmRoleCertificate:
		return &p.RealmID
	case types.RealmKeyRotationCertificate:
		return &p.RealmID
	case types.RealmNameCertificate:
		return &p.RealmID
	case types.RealmArchivingCertificate:
		return &p.RealmID
	default:
		var zero types.RealmID
		return &zero
	}
}
