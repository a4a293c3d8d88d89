// Package crypto provides the symmetric sealing, key derivation, and
// signature primitives used by the certificate store and the manifest/block
// validators: AES-256-GCM envelope encryption (grounded on
// pkg/security.SecretsManager in the teacher repo) and Ed25519 signing.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

const KeySize = 32 // AES-256

// DeriveKey derives a 32-byte symmetric key from arbitrary seed material
// (e.g. a cluster/device id or a password), mirroring the teacher's
// DeriveKeyFromClusterID helper.
func DeriveKey(seed []byte) [KeySize]byte {
	return sha256.Sum256(seed)
}

// Seal encrypts plaintext with AES-256-GCM, returning nonce||ciphertext.
func Seal(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func Open(key [KeySize]byte, sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCannotDecrypt
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrCannotDecrypt
	}
	return plaintext, nil
}

// ErrCannotDecrypt is returned whenever a seal cannot be opened, without
// leaking the underlying AEAD failure reason (matches spec §7's
// Cryptographic.CannotDecrypt family).
var ErrCannotDecrypt = fmt.Errorf("crypto: cannot decrypt")
