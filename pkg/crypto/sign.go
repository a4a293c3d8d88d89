package crypto

import (
	"crypto/ed25519"
	"fmt"
)

// SigningKey is a device's Ed25519 private key used to sign certificates and
// manifests it authors.
type SigningKey struct {
	priv ed25519.PrivateKey
}

// VerifyKey is the public counterpart published in a Device certificate.
type VerifyKey struct {
	pub ed25519.PublicKey
}

// GenerateSigningKey creates a fresh device signing key pair.
func GenerateSigningKey() (SigningKey, VerifyKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return SigningKey{}, VerifyKey{}, fmt.Errorf("crypto: generate signing key: %w", err)
	}
	return SigningKey{priv: priv}, VerifyKey{pub: pub}, nil
}

func NewVerifyKey(raw []byte) (VerifyKey, error) {
	if len(raw) != ed25519.PublicKeySize {
		return VerifyKey{}, fmt.Errorf("crypto: verify key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return VerifyKey{pub: ed25519.PublicKey(raw)}, nil
}

func (k VerifyKey) Bytes() []byte { return []byte(k.pub) }

// NewSigningKey reconstructs a signing key from its persisted private-key
// bytes, the counterpart of Bytes for round-tripping through storage.
func NewSigningKey(raw []byte) (SigningKey, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return SigningKey{}, fmt.Errorf("crypto: signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return SigningKey{priv: ed25519.PrivateKey(raw)}, nil
}

// Bytes returns the raw private-key material, used to persist a device's
// signing key across restarts.
func (k SigningKey) Bytes() []byte { return []byte(k.priv) }

// VerifyKey returns the public counterpart of this signing key.
func (k SigningKey) VerifyKey() VerifyKey { return VerifyKey{pub: k.priv.Public().(ed25519.PublicKey)} }

// Sign produces a detached signature over payload.
func (k SigningKey) Sign(payload []byte) []byte {
	return ed25519.Sign(k.priv, payload)
}

// Verify checks a detached signature; returns ErrInvalidSignature on mismatch.
func (k VerifyKey) Verify(payload, sig []byte) error {
	if !ed25519.Verify(k.pub, payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}

var ErrInvalidSignature = fmt.Errorf("crypto: invalid signature")
