package historyops

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"testing"
	"time"

	"github.com/parsec-cloud/parsec-client-go/pkg/certops"
	"github.com/parsec-cloud/parsec-client-go/pkg/certstore"
	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/errs"
	"github.com/parsec-cloud/parsec-client-go/pkg/history"
	"github.com/parsec-cloud/parsec-client-go/pkg/storage"
	"github.com/parsec-cloud/parsec-client-go/pkg/transport/inmemory"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
	"github.com/parsec-cloud/parsec-client-go/pkg/validator"
)

type testFixture struct {
	cmds  *inmemory.Client
	srv   *inmemory.Server
	ops   *WorkspaceHistoryOps
	v     *validator.Validator
	realm types.RealmID

	signKey   crypto.SigningKey
	deviceID  types.DeviceID
	bundleKey []byte
	keyIndex  uint64
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
	atRestKey := crypto.DeriveKey([]byte("historyops-test"))
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

	v := validator.New(cs, cmds, nil, wrapKey, nil)
	co := certops.New(cs, cmds, deviceID, userID, devSign, nil).WithValidator(v)

	store := history.NewStore()
	ops := New(store, cmds, co, realm, nil)

	return &testFixture{
		cmds: cmds, srv: srv, ops: ops, v: v, realm: realm,
		signKey: devSign, deviceID: deviceID, bundleKey: bundleKey, keyIndex: 1,
	}
}

func (f *testFixture) submitManifest(t *testing.T, ctx context.Context, entryID types.VlobID, m types.Manifest, ts time.Time) {
	t.Helper()
	sealed, keyIndex, err := f.v.SealManifest(ctx, f.realm, m, f.signKey)
	if err != nil {
		t.Fatalf("seal manifest: %v", err)
	}
	if err := f.cmds.VlobCreate(ctx, f.realm, entryID, keyIndex, sealed, ts); err != nil {
		t.Fatalf("vlob create: %v", err)
	}
}

func (f *testFixture) submitBlock(t *testing.T, id types.BlockID, plaintext []byte) {
	t.Helper()
	blockKey := crypto.DeriveEntryKey(f.bundleKey, id.Bytes())
	sealed, err := crypto.Seal(blockKey, plaintext)
	if err != nil {
		t.Fatalf("seal block: %v", err)
	}
	f.srv.SeedBlock(id, sealed)
}

func TestStatOpenReadWorkspace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	at := base.Add(time.Hour)

	folderID := types.NewVlobID()
	fileID := types.NewVlobID()
	block1, block2 := types.NewBlockID(), types.NewBlockID()
	content := []byte("0123456789")

	workspace := &types.WorkspaceManifest{
		Envelope: types.Envelope{Author: f.deviceID, Timestamp: base, Version: 1, ID: f.realm, Created: base, Updated: base},
		Children: map[string]types.VlobID{"docs": folderID},
	}
	folder := &types.FolderManifest{
		Envelope: types.Envelope{Author: f.deviceID, Timestamp: base, Version: 1, ID: folderID, Created: base, Updated: base},
		Parent:   f.realm,
		Children: map[string]types.VlobID{"note.txt": fileID},
	}
	file := &types.FileManifest{
		Envelope:  types.Envelope{Author: f.deviceID, Timestamp: base, Version: 1, ID: fileID, Created: base, Updated: base},
		Parent:    folderID,
		Size:      10,
		Blocksize: 8,
		Blocks: []types.BlockRef{
			{ID: block1, Offset: 0, Size: 8, Digest: sha256.Sum256(content[0:8])},
			{ID: block2, Offset: 8, Size: 2, Digest: sha256.Sum256(content[8:10])},
		},
	}

	f.submitManifest(t, ctx, f.realm, workspace, base)
	f.submitManifest(t, ctx, folderID, folder, base)
	f.submitManifest(t, ctx, fileID, file, base)
	f.submitBlock(t, block1, content[0:8])
	f.submitBlock(t, block2, content[8:10])

	st, err := f.ops.StatEntry(ctx, "docs/note.txt", at)
	if err != nil {
		t.Fatalf("stat entry: %v", err)
	}
	if st.Kind != types.ManifestFile || st.Size != 10 {
		t.Fatalf("unexpected stat: %+v", st)
	}

	entries, err := f.ops.OpenFolderReader(ctx, "docs", at)
	if err != nil {
		t.Fatalf("open folder reader: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "note.txt" || entries[0].ID != fileID {
		t.Fatalf("unexpected listing: %+v", entries)
	}

	fd, err := f.ops.OpenFile(ctx, "docs/note.txt", at)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	buf := make([]byte, 10)
	n, err := f.ops.FdRead(ctx, fd, 0, 10, buf)
	if err != nil {
		t.Fatalf("fd read: %v", err)
	}
	if n != 10 || string(buf) != string(content) {
		t.Fatalf("unexpected read: n=%d buf=%q", n, buf)
	}

	// A partial, cross-block read.
	buf2 := make([]byte, 4)
	n, err = f.ops.FdRead(ctx, fd, 6, 4, buf2)
	if err != nil {
		t.Fatalf("partial fd read: %v", err)
	}
	if n != 4 || string(buf2) != "6789" {
		t.Fatalf("unexpected partial read: n=%d buf=%q", n, buf2)
	}

	if err := f.ops.FdClose(fd); err != nil {
		t.Fatalf("fd close: %v", err)
	}
	if _, err := f.ops.FdRead(ctx, fd, 0, 1, buf); err != errs.ErrBadFileDescriptor {
		t.Fatalf("expected bad descriptor after close, got %v", err)
	}
	if err := f.ops.FdClose(fd); err != errs.ErrBadFileDescriptor {
		t.Fatalf("expected bad descriptor on double close, got %v", err)
	}

	if _, err := f.ops.StatEntry(ctx, "docs/missing.txt", at); err != errs.ErrEntryNotFound {
		t.Fatalf("expected entry not found, got %v", err)
	}
}

func TestOpenFile_RejectsDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	at := base.Add(time.Hour)

	folderID := types.NewVlobID()
	workspace := &types.WorkspaceManifest{
		Envelope: types.Envelope{Author: f.deviceID, Timestamp: base, Version: 1, ID: f.realm, Created: base, Updated: base},
		Children: map[string]types.VlobID{"docs": folderID},
	}
	folder := &types.FolderManifest{
		Envelope: types.Envelope{Author: f.deviceID, Timestamp: base, Version: 1, ID: folderID, Created: base, Updated: base},
		Parent:   f.realm,
		Children: map[string]types.VlobID{},
	}
	f.submitManifest(t, ctx, f.realm, workspace, base)
	f.submitManifest(t, ctx, folderID, folder, base)

	if _, err := f.ops.OpenFile(ctx, "docs", at); err != errs.ErrNotAFile {
		t.Fatalf("expected not a file, got %v", err)
	}
	if _, err := f.ops.OpenFolderReader(ctx, "docs/nope", at); err != errs.ErrEntryNotFound {
		t.Fatalf("expected entry not found for unknown child, got %v", err)
	}
}
