package postgres

import (
	"bytes"
	"errors"
	"testing"
)

func testEncryptor(t *testing.T) *SecretEncryptor {
	t.Helper()
	enc, err := NewSecretEncryptor([]byte("01234567890123456789012345678901"))
	if err != nil {
		t.Fatalf("NewSecretEncryptor: %v", err)
	}
	return enc
}

func TestSecretEncryptor_RoundTrip(t *testing.T) {
	encryptor := testEncryptor(t)

	original := tokenSecrets{
		AccessToken:  "ya29.a0Af",
		RefreshToken: "1//0gLr",
	}

	blob, err := encryptor.Seal("rec-1", original)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if len(blob) < 1+nonceSize {
		t.Fatalf("blob too short: %d bytes", len(blob))
	}
	if blob[0] != secretVersion {
		t.Errorf("version byte: got %d, want %d", blob[0], secretVersion)
	}
	if bytes.Contains(blob, []byte(original.AccessToken)) {
		t.Error("blob contains plaintext access token")
	}

	var decrypted tokenSecrets
	if err := encryptor.Open("rec-1", blob, &decrypted); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if decrypted != original {
		t.Errorf("got %+v, want %+v", decrypted, original)
	}
}

func TestSecretEncryptor_BoundToRecord(t *testing.T) {
	encryptor := testEncryptor(t)

	blob, err := encryptor.Seal("rec-1", tokenSecrets{AccessToken: "a"})
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var out tokenSecrets
	if err := encryptor.Open("rec-2", blob, &out); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed for another record, got %v", err)
	}
}

func TestSecretEncryptor_InvalidKeySize(t *testing.T) {
	tests := []struct {
		name    string
		keySize int
	}{
		{"too short", 16},
		{"too long", 64},
		{"empty", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := make([]byte, tt.keySize)
			_, err := NewSecretEncryptor(key)
			if !errors.Is(err, ErrInvalidKeySize) {
				t.Errorf("expected ErrInvalidKeySize, got %v", err)
			}
		})
	}
}

func TestSecretEncryptor_OpenInvalidBlob(t *testing.T) {
	encryptor := testEncryptor(t)

	tests := []struct {
		name string
		blob []byte
		want error
	}{
		{"empty", []byte{}, ErrInvalidBlobSize},
		{"too short", []byte{0x01, 0x02}, ErrInvalidBlobSize},
		{"wrong version", append([]byte{0x99}, make([]byte, 100)...), ErrUnsupportedVersion},
		{"garbage", append([]byte{secretVersion}, make([]byte, 100)...), ErrDecryptionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result tokenSecrets
			if err := encryptor.Open("rec", tt.blob, &result); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSecretEncryptor_WrongKey(t *testing.T) {
	enc1, _ := NewSecretEncryptorFromSecret("first secret")
	enc2, _ := NewSecretEncryptorFromSecret("second secret")

	blob, err := enc1.Seal("rec", "secret data")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	var result string
	if err := enc2.Open("rec", blob, &result); err == nil {
		t.Error("expected error when decrypting with wrong key")
	}
}

func TestSecretEncryptor_UniqueNonce(t *testing.T) {
	encryptor := testEncryptor(t)

	nonces := make(map[string]bool)
	for i := 0; i < 10; i++ {
		blob, err := encryptor.Seal("rec", "same value")
		if err != nil {
			t.Fatalf("Seal %d: %v", i, err)
		}
		nonce := string(blob[1 : 1+nonceSize])
		if nonces[nonce] {
			t.Errorf("duplicate nonce at index %d", i)
		}
		nonces[nonce] = true
	}
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey("operator secret")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, _ := DeriveKey("operator secret")
	k3, _ := DeriveKey("other secret")

	if len(k1) != keySize {
		t.Errorf("expected %d-byte key, got %d", keySize, len(k1))
	}
	if !bytes.Equal(k1, k2) {
		t.Error("expected derivation to be deterministic")
	}
	if bytes.Equal(k1, k3) {
		t.Error("expected different secrets to derive different keys")
	}

	if _, err := DeriveKey(""); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("expected ErrEmptySecret, got %v", err)
	}
}
