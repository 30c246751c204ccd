package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// sealVersion prefixes every blob so the format can evolve.
	sealVersion = 0x02

	nonceSize = 12
	keySize   = 32
)

// accountKeyInfo is the HKDF context for account credential keys.
const accountKeyInfo = "collect-core account auth v2"

var (
	ErrInvalidKeySize     = errors.New("encryption key must be 32 bytes")
	ErrInvalidBlobSize    = errors.New("sealed secret is too small")
	ErrUnsupportedVersion = errors.New("unsupported sealed secret version")
	ErrDecryptionFailed   = errors.New("failed to open sealed secret")
)

// DeriveKey stretches an operator-supplied secret of any length into an
// AES-256 key bound to info.
func DeriveKey(secret, info string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("empty master secret")
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// SecretEncryptor seals account credentials with AES-256-GCM.
// Blobs are laid out as version(1) || nonce(12) || ciphertext, and the
// document identity is authenticated as additional data so a blob cannot
// be moved to another document.
type SecretEncryptor struct {
	aead cipher.AEAD
}

// NewSecretEncryptor creates an encryptor from a 32-byte key.
func NewSecretEncryptor(key []byte) (*SecretEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &SecretEncryptor{aead: aead}, nil
}

// NewSecretEncryptorFromSecret derives the account key from a master secret.
func NewSecretEncryptorFromSecret(secret string) (*SecretEncryptor, error) {
	key, err := DeriveKey(secret, accountKeyInfo)
	if err != nil {
		return nil, err
	}
	return NewSecretEncryptor(key)
}

func sealAAD(doctype, id string) []byte {
	return []byte(doctype + "/" + id)
}

// Seal encrypts plaintext for the document doctype/id.
func (e *SecretEncryptor) Seal(doctype, id string, plaintext []byte) ([]byte, error) {
	blob := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+e.aead.Overhead())
	blob[0] = sealVersion
	if _, err := rand.Read(blob[1:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(blob, blob[1:1+nonceSize], plaintext, sealAAD(doctype, id)), nil
}

// Open decrypts a blob sealed for doctype/id.
func (e *SecretEncryptor) Open(doctype, id string, blob []byte) ([]byte, error) {
	if len(blob) < 1+nonceSize+e.aead.Overhead() {
		return nil, ErrInvalidBlobSize
	}
	if blob[0] != sealVersion {
		return nil, fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}
	plaintext, err := e.aead.Open(nil, blob[1:1+nonceSize], blob[1+nonceSize:], sealAAD(doctype, id))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
