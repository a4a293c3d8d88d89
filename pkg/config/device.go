package config

import (
	crand "crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/parsec-cloud/parsec-client-go/pkg/crypto"
	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

func randomKey(buf []byte) error {
	_, err := io.ReadFull(crand.Reader, buf)
	return err
}

const deviceFileSuffix = ".device"

// DeviceIdentity pins the triple (device id, user id, organization id) that
// a data_base_dir was bootstrapped with, plus the local key material this
// device signs certificates and manifests with. The real multi-party
// enrollment protocol (bootstrap_organization / claim_device, spec §6.4) is
// out of scope; a first-run device mints its own signing key and stands in
// as its own root of trust, the same simplification pkg/validator documents
// for the keys-bundle wrap key.
type DeviceIdentity struct {
	DeviceID       types.DeviceID
	UserID         types.UserID
	OrganizationID types.OrganizationID
	SigningKey     crypto.SigningKey
	RootVerifyKey  crypto.VerifyKey
	AtRestKey      [crypto.KeySize]byte
	WrapKey        [crypto.KeySize]byte
}

type deviceFileYAML struct {
	DeviceID       string `yaml:"device_id"`
	UserID         string `yaml:"user_id"`
	OrganizationID string `yaml:"organization_id"`
	SigningKey     string `yaml:"signing_key"`
	RootVerifyKey  string `yaml:"root_verify_key"`
	AtRestKey      string `yaml:"at_rest_key"`
	WrapKey        string `yaml:"wrap_key"`
}

func devicePath(dataBaseDir string, deviceID types.DeviceID) string {
	return filepath.Join(dataBaseDir, deviceID.String()+deviceFileSuffix)
}

// EnsureDeviceIdentity returns the identity pinned by the first *.device
// file found under dataBaseDir. If none exists, it mints a fresh device id
// for (userID, orgID) and persists it, so every later call against the same
// dataBaseDir observes the same device id.
func EnsureDeviceIdentity(dataBaseDir string, userID types.UserID, orgID types.OrganizationID) (*DeviceIdentity, error) {
	existing, err := findDeviceFile(dataBaseDir)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return loadDeviceIdentity(existing)
	}

	signKey, verifyKey, err := crypto.GenerateSigningKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate device signing key: %w", err)
	}
	var atRestKey [crypto.KeySize]byte
	if err := randomKey(atRestKey[:]); err != nil {
		return nil, fmt.Errorf("config: generate at-rest key: %w", err)
	}
	var wrapKey [crypto.KeySize]byte
	if err := randomKey(wrapKey[:]); err != nil {
		return nil, fmt.Errorf("config: generate wrap key: %w", err)
	}

	identity := &DeviceIdentity{
		DeviceID:       types.NewDeviceID(),
		UserID:         userID,
		OrganizationID: orgID,
		SigningKey:     signKey,
		RootVerifyKey:  verifyKey,
		AtRestKey:      atRestKey,
		WrapKey:        wrapKey,
	}
	if err := os.MkdirAll(dataBaseDir, 0o700); err != nil {
		return nil, fmt.Errorf("config: create data dir %s: %w", dataBaseDir, err)
	}
	if err := saveDeviceIdentity(devicePath(dataBaseDir, identity.DeviceID), identity); err != nil {
		return nil, err
	}
	return identity, nil
}

func findDeviceFile(dataBaseDir string) (string, error) {
	entries, err := os.ReadDir(dataBaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("config: read data dir %s: %w", dataBaseDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), deviceFileSuffix) {
			return filepath.Join(dataBaseDir, e.Name()), nil
		}
	}
	return "", nil
}

func loadDeviceIdentity(path string) (*DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read device file %s: %w", path, err)
	}
	var raw deviceFileYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse device file %s: %w", path, err)
	}

	deviceID, err := uuid.Parse(raw.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: invalid device_id: %w", path, err)
	}
	userID, err := uuid.Parse(raw.UserID)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: invalid user_id: %w", path, err)
	}
	orgID, err := types.ParseOrganizationID(raw.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: %w", path, err)
	}
	signKeyBytes, err := base64.StdEncoding.DecodeString(raw.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: invalid signing_key: %w", path, err)
	}
	signKey, err := crypto.NewSigningKey(signKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: %w", path, err)
	}
	verifyKeyBytes, err := base64.StdEncoding.DecodeString(raw.RootVerifyKey)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: invalid root_verify_key: %w", path, err)
	}
	verifyKey, err := crypto.NewVerifyKey(verifyKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: %w", path, err)
	}
	atRestKeyBytes, err := base64.StdEncoding.DecodeString(raw.AtRestKey)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: invalid at_rest_key: %w", path, err)
	}
	if len(atRestKeyBytes) != crypto.KeySize {
		return nil, fmt.Errorf("config: device file %s: at_rest_key must be %d bytes, got %d", path, crypto.KeySize, len(atRestKeyBytes))
	}
	var atRestKey [crypto.KeySize]byte
	copy(atRestKey[:], atRestKeyBytes)
	wrapKeyBytes, err := base64.StdEncoding.DecodeString(raw.WrapKey)
	if err != nil {
		return nil, fmt.Errorf("config: device file %s: invalid wrap_key: %w", path, err)
	}
	if len(wrapKeyBytes) != crypto.KeySize {
		return nil, fmt.Errorf("config: device file %s: wrap_key must be %d bytes, got %d", path, crypto.KeySize, len(wrapKeyBytes))
	}
	var wrapKey [crypto.KeySize]byte
	copy(wrapKey[:], wrapKeyBytes)

	return &DeviceIdentity{
		DeviceID:       types.DeviceID(deviceID),
		UserID:         types.UserID(userID),
		OrganizationID: orgID,
		SigningKey:     signKey,
		RootVerifyKey:  verifyKey,
		AtRestKey:      atRestKey,
		WrapKey:        wrapKey,
	}, nil
}

func saveDeviceIdentity(path string, identity *DeviceIdentity) error {
	raw := deviceFileYAML{
		DeviceID:       identity.DeviceID.String(),
		UserID:         identity.UserID.String(),
		OrganizationID: identity.OrganizationID.String(),
		SigningKey:     base64.StdEncoding.EncodeToString(identity.SigningKey.Bytes()),
		RootVerifyKey:  base64.StdEncoding.EncodeToString(identity.RootVerifyKey.Bytes()),
		AtRestKey:      base64.StdEncoding.EncodeToString(identity.AtRestKey[:]),
		WrapKey:        base64.StdEncoding.EncodeToString(identity.WrapKey[:]),
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("config: marshal device file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write device file %s: %w", path, err)
	}
	return nil
}
