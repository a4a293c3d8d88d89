package certops

import (
	"context"
	"testing"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport/inmemory"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

type testFixture struct {
	certs *certstore.Store
	srv   *inmemory.Server
	cmds  *inmemory.Client
	ops   *CertificateOps

	userID   types.UserID
	deviceID types.DeviceID
	signKey  crypto.SigningKey

	signRoot func(cert types.Certificate) certstore.SignedCertificate
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
	atRestKey := crypto.DeriveKey([]byte("certops-test"))
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

	srv := inmemory.NewServer()
	cmds := inmemory.NewClient(srv, userID)
	ops := New(cs, cmds, deviceID, userID, devSign, nil)

	return &testFixture{
		certs: cs, srv: srv, cmds: cmds, ops: ops,
		userID: userID, deviceID: deviceID, signKey: devSign,
		signRoot: signRoot,
	}
}

func TestEnsureRealmCreated_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm := types.NewVlobID()

	if err := f.ops.EnsureRealmCreated(ctx, realm); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := f.ops.EnsureRealmCreated(ctx, realm); err != nil {
		t.Fatalf("second ensure (should be a no-op): %v", err)
	}

	role, err := f.certs.RealmRoleOfUserAt(realm, f.userID, time.Now())
	if err != nil {
		t.Fatalf("role lookup: %v", err)
	}
	if role == nil || *role != types.RealmRoleOwner {
		t.Fatalf("expected owner role, got %v", role)
	}

	certs, err := f.certs.GetMany(types.CertRealmRole, certstore.NoFilter(), certstore.Current(), 0, 0)
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	if len(certs) != 1 {
		t.Fatalf("expected exactly one role certificate after two ensure calls, got %d", len(certs))
	}
}

func TestBootstrapWorkspace_GrantsOwnerRole(t *testing.T) {
	f := newFixture(t)
	realm, err := f.ops.BootstrapWorkspace(context.Background())
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	role, err := f.certs.RealmRoleOfUserAt(realm, f.userID, time.Now())
	if err != nil {
		t.Fatalf("role lookup: %v", err)
	}
	if role == nil || *role != types.RealmRoleOwner {
		t.Fatalf("expected owner role, got %v", role)
	}
}

func TestShareRealm_GrantsRecipientRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	realm, err := f.ops.BootstrapWorkspace(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	recipient := types.NewUserID()
	reader := types.RealmRoleReader
	if err := f.ops.ShareRealm(ctx, realm, recipient, &reader, []byte("wrapped-access")); err != nil {
		t.Fatalf("share realm: %v", err)
	}

	role, err := f.certs.RealmRoleOfUserAt(realm, recipient, time.Now())
	if err != nil {
		t.Fatalf("role lookup: %v", err)
	}
	if role == nil || *role != types.RealmRoleReader {
		t.Fatalf("expected reader role for recipient, got %v", role)
	}
}

func TestRevokeUser_PublishesRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := types.NewUserID()
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	// Seed a second, unrevoked user so revocation has something to apply to.
	targetCert := types.Certificate{
		Kind: types.CertUser, Author: types.RootAuthor(), Timestamp: base,
		Payload: types.UserCertificate{UserID: target, HumanHandle: types.HumanHandle{Email: "b@example.com", Label: "B"}, Profile: types.ProfileStandard},
	}
	if _, err := f.certs.AddBatch(certstore.Batch{types.TopicCommon: {f.signRoot(targetCert)}}); err != nil {
		t.Fatalf("seed target user: %v", err)
	}

	if err := f.ops.RevokeUser(ctx, target); err != nil {
		t.Fatalf("revoke user: %v", err)
	}

	_, revokedAt, err := f.certs.UserStateAt(target, time.Now())
	if err != nil {
		t.Fatalf("user state: %v", err)
	}
	if revokedAt == nil {
		t.Fatalf("expected target user to be revoked")
	}
}

func TestUpdateUserProfile_ChangesProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.ops.UpdateUserProfile(ctx, f.userID, types.ProfileStandard); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	profile, _, err := f.certs.UserStateAt(f.userID, time.Now())
	if err != nil {
		t.Fatalf("user state: %v", err)
	}
	if profile != types.ProfileStandard {
		t.Fatalf("expected profile to change to standard, got %s", profile)
	}
}

func TestListUsers_ReturnsSeededUser(t *testing.T) {
	f := newFixture(t)
	users, err := f.ops.ListUsers()
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 || users[0].User.UserID != f.userID {
		t.Fatalf("expected exactly the seeded user, got %+v", users)
	}
	if users[0].Revoked {
		t.Fatalf("expected seeded user to not be revoked yet")
	}
}

func TestListUserDevices_ReturnsSeededDevice(t *testing.T) {
	f := newFixture(t)
	devices, err := f.ops.ListUserDevices(f.userID)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 1 || devices[0].DeviceID != f.deviceID {
		t.Fatalf("expected exactly the seeded device, got %+v", devices)
	}
}

func TestSetupAndDeleteShamirRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recipient := types.NewUserID()

	err := f.ops.SetupShamirRecovery(ctx, 1, []ShamirShare{{Recipient: recipient, ShareData: []byte("share-1")}})
	if err != nil {
		t.Fatalf("setup shamir: %v", err)
	}

	briefs, err := f.certs.GetMany(types.CertShamirBrief, certstore.NoFilter(), certstore.Current(), 0, 0)
	if err != nil {
		t.Fatalf("get briefs: %v", err)
	}
	if len(briefs) != 1 {
		t.Fatalf("expected one brief, got %d", len(briefs))
	}
	briefTS := briefs[0].Cert.Timestamp

	if err := f.ops.DeleteShamirRecovery(ctx, briefTS); err != nil {
		t.Fatalf("delete shamir: %v", err)
	}
	deletions, err := f.certs.GetMany(types.CertShamirDeletion, certstore.NoFilter(), certstore.Current(), 0, 0)
	if err != nil {
		t.Fatalf("get deletions: %v", err)
	}
	if len(deletions) != 1 {
		t.Fatalf("expected one deletion certificate, got %d", len(deletions))
	}
}

func TestWaitForCursors_SatisfiedLocally(t *testing.T) {
	f := newFixture(t)
	err := f.ops.WaitForCursors(context.Background(), time.Time{}, time.Time{}, types.RealmID{})
	if err != nil {
		t.Fatalf("expected zero-value needed timestamps to already be satisfied, got %v", err)
	}
}

func TestForgetAllCertificates_WipesStore(t *testing.T) {
	f := newFixture(t)
	if err := f.ops.ForgetAllCertificates(); err != nil {
		t.Fatalf("forget all: %v", err)
	}
	users, err := f.ops.ListUsers()
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected no users after forget all, got %d", len(users))
	}
}
