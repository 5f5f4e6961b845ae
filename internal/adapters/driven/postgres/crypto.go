package postgres

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// secretVersion is the version byte for the encrypted blob format.
	secretVersion = 0x01

	// nonceSize is the AES-GCM nonce size (12 bytes is standard)
	nonceSize = 12

	// keySize is the required key size for AES-256
	keySize = 32

	keyInfo = "commerce-connect/token-encryption/v1"
)

var (
	// ErrInvalidKeySize is returned when the encryption key is not 32 bytes.
	ErrInvalidKeySize = errors.New("encryption key must be 32 bytes")

	// ErrEmptySecret is returned when no key material is configured.
	ErrEmptySecret = errors.New("encryption secret is empty")

	// ErrInvalidBlobSize is returned when the encrypted blob is too small.
	ErrInvalidBlobSize = errors.New("encrypted blob is too small")

	// ErrUnsupportedVersion is returned when the blob version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported secret blob version")

	// ErrDecryptionFailed is returned when decryption fails (wrong key,
	// corrupted data, or a blob moved between records).
	ErrDecryptionFailed = errors.New("failed to decrypt secret blob")
)

// DeriveKey stretches an operator-supplied secret of any length into an
// AES-256 key using HKDF-SHA256.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// SecretEncryptor seals credentials with AES-256-GCM.
// Blob format: version(1) || nonce(12) || ciphertext(N)
//
// Each blob is bound to a record through the GCM additional data, so a
// blob copied onto another row fails to open.
type SecretEncryptor struct {
	gcm cipher.AEAD
}

// NewSecretEncryptor creates an encryptor with the given 32-byte key.
func NewSecretEncryptor(key []byte) (*SecretEncryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &SecretEncryptor{gcm: gcm}, nil
}

// NewSecretEncryptorFromSecret derives the key from secret, then creates
// the encryptor.
func NewSecretEncryptorFromSecret(secret string) (*SecretEncryptor, error) {
	key, err := DeriveKey(secret)
	if err != nil {
		return nil, err
	}
	return NewSecretEncryptor(key)
}

// Seal JSON-encodes value and encrypts it for the record identified by
// recordID.
func (e *SecretEncryptor) Seal(recordID string, value any) ([]byte, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	blob := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+e.gcm.Overhead())
	blob[0] = secretVersion
	copy(blob[1:], nonce)
	return e.gcm.Seal(blob, nonce, plaintext, []byte(recordID)), nil
}

// Open decrypts a blob sealed for recordID into value, which must be a
// pointer.
func (e *SecretEncryptor) Open(recordID string, blob []byte, value any) error {
	if len(blob) < 1+nonceSize+e.gcm.Overhead() {
		return ErrInvalidBlobSize
	}
	if blob[0] != secretVersion {
		return fmt.Errorf("%w: got version %d", ErrUnsupportedVersion, blob[0])
	}

	nonce := blob[1 : 1+nonceSize]
	plaintext, err := e.gcm.Open(nil, nonce, blob[1+nonceSize:], []byte(recordID))
	if err != nil {
		return ErrDecryptionFailed
	}

	if err := json.Unmarshal(plaintext, value); err != nil {
		return fmt.Errorf("unmarshal decrypted value: %w", err)
	}
	return nil
}
