package config

import (
	"path/filepath"
	"testing"

	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

func TestEnsureDeviceIdentity_CreatesOnFirstCall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "device-data")
	userID := types.NewUserID()
	orgID := types.OrganizationID("AcmeCorp")

	identity, err := EnsureDeviceIdentity(dir, userID, orgID)
	if err != nil {
		t.Fatalf("EnsureDeviceIdentity: %v", err)
	}
	if identity.UserID != userID || identity.OrganizationID != orgID {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if len(identity.SigningKey.Bytes()) == 0 || len(identity.RootVerifyKey.Bytes()) == 0 {
		t.Fatal("expected a freshly minted signing key pair")
	}

	reloaded, err := EnsureDeviceIdentity(dir, userID, orgID)
	if err != nil {
		t.Fatalf("second EnsureDeviceIdentity: %v", err)
	}
	if string(reloaded.SigningKey.Bytes()) != string(identity.SigningKey.Bytes()) {
		t.Fatal("signing key was not persisted across calls")
	}
	if reloaded.AtRestKey != identity.AtRestKey {
		t.Fatal("at-rest key was not persisted across calls")
	}
	if reloaded.WrapKey != identity.WrapKey {
		t.Fatal("wrap key was not persisted across calls")
	}
}

func TestEnsureDeviceIdentity_PinsDeviceIDAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	userID := types.NewUserID()
	orgID := types.OrganizationID("AcmeCorp")

	first, err := EnsureDeviceIdentity(dir, userID, orgID)
	if err != nil {
		t.Fatalf("first EnsureDeviceIdentity: %v", err)
	}

	// A second call, even with different caller-supplied hints, must return
	// the device id pinned by the file written during the first call.
	second, err := EnsureDeviceIdentity(dir, types.NewUserID(), types.OrganizationID("OtherOrg"))
	if err != nil {
		t.Fatalf("second EnsureDeviceIdentity: %v", err)
	}
	if second.DeviceID != first.DeviceID || second.UserID != first.UserID || second.OrganizationID != first.OrganizationID {
		t.Fatalf("device identity was not pinned: first=%+v second=%+v", first, second)
	}
}
