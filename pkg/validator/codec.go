package validator

import (
	"encoding/json"
	"fmt"

	"github.com/parsec-cloud/parsec-client-go/pkg/types"
)

// wireEnvelope is the signed, then encrypted, on-the-wire shape of a
// manifest: Data holds the JSON encoding of the concrete manifest struct
// (selected by Kind), and Signature is the author device's detached
// signature over (Kind, Data).
type wireEnvelope struct {
	Kind      types.ManifestKind
	Data      json.RawMessage
	Signature []byte
}

func manifestSigningBytes(kind types.ManifestKind, data json.RawMessage) []byte {
	canon := struct {
		Kind types.ManifestKind
		Data json.RawMessage
	}{Kind: kind, Data: data}
	b, _ := json.Marshal(canon)
	return b
}

func marshalManifestData(m types.Manifest) (json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("validator: marshal manifest: %w", err)
	}
	return data, nil
}

// encodeManifest produces the cleartext bytes sealed with the per-entry key:
// the manifest's JSON plus its author signature.
func encodeManifest(m types.Manifest, signature []byte) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("validator: marshal manifest: %w", err)
	}
	we := wireEnvelope{Kind: m.Kind(), Data: data, Signature: signature}
	return json.Marshal(we)
}

func decodeManifestEnvelope(cleartext []byte) (wireEnvelope, error) {
	var we wireEnvelope
	if err := json.Unmarshal(cleartext, &we); err != nil {
		return wireEnvelope{}, fmt.Errorf("validator: unmarshal manifest envelope: %w", err)
	}
	return we, nil
}

func decodeManifestPayload(kind types.ManifestKind, data json.RawMessage) (types.Manifest, error) {
	switch kind {
	case types.ManifestUser:
		var m types.UserManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case types.ManifestWorkspace:
		var m types.WorkspaceManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case types.ManifestFolder:
		var m types.FolderManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case types.ManifestFile:
		var m types.FileManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return &m, nil
	default:
		return nil, fmt.Errorf("validator: unknown manifest kind %q", kind)
	}
}
