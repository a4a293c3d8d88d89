// Package certstore implements the certificate store and ingest pipeline
// (spec §4.1): persistence of locally known certificates, per-topic cursors,
// and the ordered/filtered query surface consumed by validators and UI.
package certstore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parsec-cloud/parsec-client-go/pkg/clock"
	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/plog"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// Store persists certificates in an encrypted local index and serializes
// updates through a single lock around each atomic transaction (spec §4.1
// "Update serialization"). The lock does not wrap server I/O: callers fetch
// the server delta first, then call AddBatch, which alone holds the lock.
type Store struct {
	kv            storage.Store
	atRestKey     [crypto.KeySize]byte
	rootVerifyKey crypto.VerifyKey
	clock         clock.TimeProvider
	updateLock    sync.Mutex
	log           zerolog.Logger
}

// New creates a certificate store over kv, sealing blobs at rest with
// atRestKey and verifying Root-authored certificates with rootVerifyKey.
func New(kv storage.Store, atRestKey [crypto.KeySize]byte, rootVerifyKey crypto.VerifyKey, tp clock.TimeProvider) *Store {
	if tp == nil {
		tp = clock.Real{}
	}
	return &Store{kv: kv, atRestKey: atRestKey, rootVerifyKey: rootVerifyKey, clock: tp, log: plog.WithComponent("certstore")}
}

// storedCert is the at-rest JSON shape, sealed with atRestKey before being
// written to a bucket value.
type storedCert struct {
	Kind         types.CertKind
	AuthorIsRoot bool
	AuthorDevice [16]byte
	Timestamp    int64 // unix micros
	Signature    []byte
	PayloadJSON  json.RawMessage
}

func (s *Store) encode(c SignedCertificate) ([]byte, error) {
	payloadJSON, err := json.Marshal(c.Cert.Payload)
	if err != nil {
		return nil, fmt.Errorf("certstore: marshal payload: %w", err)
	}
	rec := storedCert{
		Kind:         c.Cert.Kind,
		AuthorIsRoot: c.Cert.Author.IsRoot,
		Timestamp:    c.Cert.Timestamp.UnixMicro(),
		Signature:    c.Signature,
		PayloadJSON:  payloadJSON,
	}
	if !c.Cert.Author.IsRoot {
		copy(rec.AuthorDevice[:], c.Cert.Author.DeviceID.Bytes())
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("certstore: marshal record: %w", err)
	}
	return crypto.Seal(s.atRestKey, raw)
}

func (s *Store) decode(kind types.CertKind, sealed []byte) (SignedCertificate, error) {
	raw, err := crypto.Open(s.atRestKey, sealed)
	if err != nil {
		return SignedCertificate{}, err
	}
	var rec storedCert
	if err := json.Unmarshal(raw, &rec); err != nil {
		return SignedCertificate{}, fmt.Errorf("certstore: unmarshal record: %w", err)
	}
	payload, err := decodePayload(rec.Kind, rec.PayloadJSON)
	if err != nil {
		return SignedCertificate{}, err
	}
	author := types.RootAuthor()
	if !rec.AuthorIsRoot {
		var dev types.DeviceID
		copy(dev[:], rec.AuthorDevice[:])
		author = types.DeviceAuthor(dev)
	}
	return SignedCertificate{
		Cert: types.Certificate{
			Kind:      kind,
			Author:    author,
			Timestamp: time.UnixMicro(rec.Timestamp).UTC(),
			Payload:   payload,
		},
		Signature: rec.Signature,
	}, nil
}

// SignedCertificate pairs a parsed certificate with its detached signature
// over the canonical signing payload (see SigningBytes).
type SignedCertificate struct {
	Cert      types.Certificate
	Signature []byte
}

// SigningBytes returns the canonical bytes a device signs to produce
// Signature: the JSON encoding of (kind, author, timestamp, payload).
func SigningBytes(c types.Certificate) ([]byte, error) {
	payloadJSON, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("certstore: marshal payload for signing: %w", err)
	}
	canon := struct {
		Kind      types.CertKind
		Author    string
		Timestamp int64
		Payload   json.RawMessage
	}{Kind: c.Kind, Author: c.Author.String(), Timestamp: c.Timestamp.UnixMicro(), Payload: payloadJSON}
	return json.Marshal(canon)
}

