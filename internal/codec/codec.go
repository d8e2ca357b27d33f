package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"
)

/*
SCENE ENCRYPTION

Rooms are end-to-end encrypted: the room key is a 128-bit AES key shared
through the room link and never stored server side. Scenes are serialized
to JSON and sealed with AES-GCM. GCM authenticates the ciphertext, so a
wrong key or a tampered/truncated payload fails to open instead of producing
garbage JSON.

Key format: base64url without padding (the "k" member of a JWK).
*/

const (
	// KeyBytes is the size of a generated room key
	KeyBytes = 16
	// IVBytes is the GCM nonce size
	IVBytes = 12
)

// DecryptionError means stored data could not be opened with the given key.
// It is never transient: retrying with the same inputs fails the same way.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("failed to decrypt: %v", e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, fault.ErrDecryption) hold for every DecryptionError
func (e *DecryptionError) Is(target error) bool {
	return target == fault.ErrDecryption
}

// GenerateKey returns a fresh random room key
func GenerateKey() (string, error) {
	key := make([]byte, KeyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// ParseKey decodes a room key into raw AES key bytes
func ParseKey(key string) ([]byte, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(key), "=")
	raw, err := base64.RawURLEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fault.ErrInvalidKey, err)
	}
	switch len(raw) {
	case 16, 24, 32:
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: %d bytes", fault.ErrInvalidKey, len(raw))
	}
}

func newGCM(key string) (cipher.AEAD, error) {
	raw, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// EncryptData seals plaintext with a fresh IV
func EncryptData(key string, plaintext []byte) (ciphertext, iv []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	iv = make([]byte, IVBytes)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	return gcm.Seal(nil, iv, plaintext, nil), iv, nil
}

// DecryptData opens ciphertext sealed by EncryptData
func DecryptData(iv, ciphertext []byte, key string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, &DecryptionError{Err: err}
	}
	if len(iv) != gcm.NonceSize() {
		return nil, &DecryptionError{Err: fmt.Errorf("iv must be %d bytes, got %d", gcm.NonceSize(), len(iv))}
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, &DecryptionError{Err: fmt.Errorf("ciphertext too short")}
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, &DecryptionError{Err: err}
	}
	return plaintext, nil
}

// EncryptElements serializes and encrypts a scene
func EncryptElements(key string, elements models.ElementSet) (ciphertext, iv []byte, err error) {
	if elements == nil {
		elements = models.ElementSet{}
	}
	encoded, err := json.Marshal(elements)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode elements: %w", err)
	}
	return EncryptData(key, encoded)
}

// DecryptElements decrypts and decodes a scene produced by EncryptElements
func DecryptElements(iv, ciphertext []byte, key string) (models.ElementSet, error) {
	plaintext, err := DecryptData(iv, ciphertext, key)
	if err != nil {
		return nil, err
	}

	var elements models.ElementSet
	if err := json.Unmarshal(plaintext, &elements); err != nil {
		return nil, &DecryptionError{Err: fmt.Errorf("decrypted scene is not valid JSON: %w", err)}
	}
	return elements, nil
}
