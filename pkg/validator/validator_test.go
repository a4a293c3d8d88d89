package validator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport/inmemory"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

type testFixture struct {
	certs     *certstore.Store
	srv       *inmemory.Server
	cmds      *inmemory.Client
	validator *Validator
	wrapKey   [crypto.KeySize]byte

	userID   types.UserID
	deviceID types.DeviceID
	signKey  crypto.SigningKey
	realm    types.RealmID
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	dir := t.TempDir()
	kv, err := storage.Open(dir, "device")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	rootSign, rootVerify, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	atRestKey := crypto.DeriveKey([]byte("validator-test"))
	cs := certstore.New(kv, atRestKey, rootVerify, nil)

	devSign, devVerify, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate device key: %v", err)
	}
	userID, deviceID := types.NewUserID(), types.NewDeviceID()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	signRoot := func(cert types.Certificate) certstore.SignedCertificate {
		b, err := certstore.SigningBytes(cert)
		if err != nil {
			t.Fatalf("signing bytes: %v", err)
		}
		return certstore.SignedCertificate{Cert: cert, Signature: rootSign.Sign(b)}
	}
	signDevice := func(cert types.Certificate) certstore.SignedCertificate {
		b, err := certstore.SigningBytes(cert)
		if err != nil {
			t.Fatalf("signing bytes: %v", err)
		}
		return certstore.SignedCertificate{Cert: cert, Signature: devSign.Sign(b)}
	}

	userCert := types.Certificate{
		Kind: types.CertUser, Author: types.RootAuthor(), Timestamp: base,
		Payload: types.UserCertificate{UserID: userID, HumanHandle: types.HumanHandle{Email: "a@example.com", Label: "A"}, PublicKey: devVerify.Bytes(), Profile: types.ProfileAdmin},
	}
	deviceCert := types.Certificate{
		Kind: types.CertDevice, Author: types.RootAuthor(), Timestamp: base.Add(time.Microsecond),
		Payload: types.DeviceCertificate{DeviceID: deviceID, UserID: userID, DeviceLabel: "dev", VerifyKey: devVerify.Bytes()},
	}
	if _, err := cs.AddBatch(certstore.Batch{types.TopicCommon: {signRoot(userCert), signRoot(deviceCert)}}); err != nil {
		t.Fatalf("issue user/device: %v", err)
	}

	realm := types.NewVlobID()
	owner := types.RealmRoleOwner
	roleCert := types.Certificate{
		Kind: types.CertRealmRole, Author: types.DeviceAuthor(deviceID), Timestamp: base.Add(2 * time.Second),
		Payload: types.RealmRoleCertificate{RealmID: realm, UserID: userID, Role: &owner},
	}
	canary := []byte("canary-v1")
	rotationCert := types.Certificate{
		Kind: types.CertRealmKeyRotation, Author: types.DeviceAuthor(deviceID), Timestamp: base.Add(3 * time.Second),
		Payload: types.RealmKeyRotationCertificate{RealmID: realm, KeyIndex: 1, KeyCanary: canary},
	}
	if _, err := cs.AddBatch(certstore.Batch{types.TopicRealm: {signDevice(roleCert), signDevice(rotationCert)}}); err != nil {
		t.Fatalf("issue realm certs: %v", err)
	}

	bundleKey := make([]byte, crypto.KeySize)
	for i := range bundleKey {
		bundleKey[i] = byte(i + 1)
	}
	bundle := types.KeysBundle{RealmID: realm, KeyIndex: 1, Keys: [][]byte{bundleKey}, Canary: canary}
	serialized, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("marshal bundle: %v", err)
	}
	var wrapKey [crypto.KeySize]byte
	copy(wrapKey[:], []byte("0123456789abcdef0123456789abcdef"))
	access, err := crypto.Seal(wrapKey, serialized)
	if err != nil {
		t.Fatalf("seal access: %v", err)
	}

	srv := inmemory.NewServer()
	srv.SeedKeysBundle(realm, userID, nil, access)
	cmds := inmemory.NewClient(srv, userID)

	v := New(cs, cmds, nil, wrapKey, nil)

	return &testFixture{
		certs: cs, srv: srv, cmds: cmds, validator: v, wrapKey: wrapKey,
		userID: userID, deviceID: deviceID, signKey: devSign, realm: realm,
	}
}

func (f *testFixture) sealManifest(t *testing.T, m types.Manifest, entryID types.VlobID) []byte {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	we := wireEnvelope{Kind: m.Kind(), Data: data}
	we.Signature = f.signKey.Sign(manifestSigningBytes(we.Kind, we.Data))
	cleartext, err := json.Marshal(we)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	// The entry key must match what the validator derives from the loaded
	// bundle, so reuse the same raw key bytes seeded into the bundle.
	entryKey := crypto.DeriveEntryKey(f.bundleKeyBytes(t), entryID.Bytes())
	sealed, err := crypto.Seal(entryKey, cleartext)
	if err != nil {
		t.Fatalf("seal manifest: %v", err)
	}
	return sealed
}

func (f *testFixture) bundleKeyBytes(t *testing.T) []byte {
	t.Helper()
	bundle, err := f.validator.loadKeysBundle(context.Background(), f.realm, nil)
	if err != nil {
		t.Fatalf("load bundle: %v", err)
	}
	key, ok := bundle.KeyAt(1)
	if !ok {
		t.Fatalf("expected key at index 1")
	}
	return key
}

func TestValidateManifest_RoundTrip(t *testing.T) {
	f := newFixture(t)
	entryID := types.NewVlobID()
	ts := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)

	manifest := &types.FileManifest{
		Envelope: types.Envelope{Author: f.deviceID, Timestamp: ts, Version: 1, ID: entryID, Created: ts, Updated: ts},
		Parent:   types.NewVlobID(),
		Size:     10,
		Blocksize: 8,
		Blocks: []types.BlockRef{
			{ID: types.NewBlockID(), Offset: 0, Size: 8},
			{ID: types.NewBlockID(), Offset: 8, Size: 2},
		},
	}
	encrypted := f.sealManifest(t, manifest, entryID)

	got, err := f.validator.ValidateManifest(context.Background(), ValidateManifestInput{
		RealmID: f.realm, KeyIndex: 1, EntryID: &entryID, Author: f.deviceID,
		ExpectedVersion: 1, ExpectedTimestamp: ts, Encrypted: encrypted,
	})
	if err != nil {
		t.Fatalf("validate manifest: %v", err)
	}
	fm, ok := got.(*types.FileManifest)
	if !ok {
		t.Fatalf("expected *types.FileManifest, got %T", got)
	}
	if fm.Size != 10 || len(fm.Blocks) != 2 {
		t.Fatalf("unexpected manifest content: %+v", fm)
	}
}

func TestValidateManifest_RejectsEnvelopeMismatch(t *testing.T) {
	f := newFixture(t)
	entryID := types.NewVlobID()
	ts := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	manifest := &types.FileManifest{
		Envelope: types.Envelope{Author: f.deviceID, Timestamp: ts, Version: 1, ID: entryID, Created: ts, Updated: ts},
		Size: 0, Blocksize: 8,
	}
	encrypted := f.sealManifest(t, manifest, entryID)

	_, err := f.validator.ValidateManifest(context.Background(), ValidateManifestInput{
		RealmID: f.realm, KeyIndex: 1, EntryID: &entryID, Author: f.deviceID,
		ExpectedVersion: 2, // mismatched on purpose
		ExpectedTimestamp: ts, Encrypted: encrypted,
	})
	var im *errs.InvalidManifest
	if !errors.As(err, &im) || !errors.Is(im.Reason, errEnvelopeMismatch) {
		t.Fatalf("expected envelope mismatch, got %v", err)
	}
}

func TestCheckFileBlocks_RejectsOverlap(t *testing.T) {
	m := &types.FileManifest{
		Size: 10, Blocksize: 8,
		Blocks: []types.BlockRef{
			{Offset: 0, Size: 6},
			{Offset: 4, Size: 4},
		},
	}
	if err := checkFileBlocks(m); !errors.Is(err, errs.ErrInvalidFileContent) {
		t.Fatalf("expected ErrInvalidFileContent, got %v", err)
	}
}

func TestCheckFileBlocks_RejectsSpanCrossing(t *testing.T) {
	m := &types.FileManifest{
		Size: 16, Blocksize: 8,
		Blocks: []types.BlockRef{
			{Offset: 4, Size: 8}, // spans [4,12), crossing the [0,8)/[8,16) boundary
		},
	}
	if err := checkFileBlocks(m); !errors.Is(err, errs.ErrInvalidFileContent) {
		t.Fatalf("expected ErrInvalidFileContent, got %v", err)
	}
}

func TestKeyAt_FailsAfterSingleRetry(t *testing.T) {
	f := newFixture(t)
	_, err := f.validator.keyAt(context.Background(), f.realm, 99)
	var ik *errs.InvalidKeysBundle
	if !errors.As(err, &ik) {
		t.Fatalf("expected InvalidKeysBundle, got %v", err)
	}
}

func TestEncryptDecryptForRealm_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ciphertext, keyIndex, err := f.validator.EncryptForRealm(context.Background(), f.realm, []byte("hello"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if keyIndex != 1 {
		t.Fatalf("expected key index 1, got %d", keyIndex)
	}
	plaintext, err := f.validator.DecryptOpaqueDataForRealm(context.Background(), f.realm, keyIndex, ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plaintext) != "hello" {
		t.Fatalf("expected round trip, got %q", plaintext)
	}
}
