package codec

import (
	"encoding/json"
	"testing"

	"scene-sync/internal/fault"
	"scene-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleElements() models.ElementSet {
	return models.ElementSet{
		{ID: "a", Type: "rectangle", Version: 3, VersionNonce: 11, Index: "a0", Width: 10, Height: 20},
		{
			ID: "b", Type: "text", Version: 1, VersionNonce: 5, Index: "a1", Text: "hello",
			Extra: map[string]json.RawMessage{"strokeColor": json.RawMessage(`"#1e1e1e"`)},
		},
		{ID: "c", Type: "ellipse", Version: 7, VersionNonce: 2, Index: "a2", IsDeleted: true},
	}
}

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.Len(t, key, 22)

	raw, err := ParseKey(key)
	require.NoError(t, err)
	assert.Len(t, raw, KeyBytes)

	other, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestParseKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "not base64 !!", "AAAA"} {
		_, err := ParseKey(key)
		assert.ErrorIs(t, err, fault.ErrInvalidKey, "key %q", key)
	}
}

func TestElementsRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	elements := sampleElements()
	ciphertext, iv, err := EncryptElements(key, elements)
	require.NoError(t, err)
	assert.Len(t, iv, IVBytes)
	assert.NotContains(t, string(ciphertext), "hello")

	decoded, err := DecryptElements(iv, ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, elements, decoded)
}

func TestEncryptElements_FreshIVEachTime(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	c1, iv1, err := EncryptElements(key, sampleElements())
	require.NoError(t, err)
	c2, iv2, err := EncryptElements(key, sampleElements())
	require.NoError(t, err)

	assert.NotEqual(t, iv1, iv2)
	assert.NotEqual(t, c1, c2)
}

func TestEncryptElements_Empty(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, iv, err := EncryptElements(key, nil)
	require.NoError(t, err)

	decoded, err := DecryptElements(iv, ciphertext, key)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestDecryptElements_Failures(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	wrongKey, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, iv, err := EncryptElements(key, sampleElements())
	require.NoError(t, err)

	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0xff

	tests := []struct {
		name       string
		iv         []byte
		ciphertext []byte
		key        string
	}{
		{"wrong key", iv, ciphertext, wrongKey},
		{"malformed key", iv, ciphertext, "%%%"},
		{"truncated ciphertext", iv, ciphertext[:len(ciphertext)-4], key},
		{"tiny ciphertext", iv, ciphertext[:3], key},
		{"tampered ciphertext", iv, tampered, key},
		{"short iv", iv[:4], ciphertext, key},
		{"no iv", nil, ciphertext, key},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := DecryptElements(tt.iv, tt.ciphertext, tt.key)
			require.Error(t, err)
			assert.Nil(t, decoded)
			assert.ErrorIs(t, err, fault.ErrDecryption)

			var decErr *DecryptionError
			assert.ErrorAs(t, err, &decErr)
			assert.False(t, fault.IsRetryable(err))
		})
	}
}

func TestDecryptElements_NonJSONPlaintext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	ciphertext, iv, err := EncryptData(key, []byte("definitely not json"))
	require.NoError(t, err)

	_, err = DecryptElements(iv, ciphertext, key)
	assert.ErrorIs(t, err, fault.ErrDecryption)
}

func TestFileRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	data := []byte("data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk")
	meta := models.FileMetadata{ID: "file-1", MimeType: "image/png", Created: 1700000000000}

	blob, err := EncodeFile(key, data, meta)
	require.NoError(t, err)

	decoded, decodedMeta, err := DecodeFile(key, blob)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
	assert.Equal(t, meta, decodedMeta)
}

func TestDecodeFile_Failures(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	wrongKey, err := GenerateKey()
	require.NoError(t, err)

	blob, err := EncodeFile(key, []byte("payload"), models.FileMetadata{MimeType: "image/png"})
	require.NoError(t, err)

	_, _, err = DecodeFile(wrongKey, blob)
	assert.ErrorIs(t, err, fault.ErrDecryption)

	_, _, err = DecodeFile(key, blob[:5])
	assert.ErrorIs(t, err, fault.ErrDecryption)

	bad := append([]byte{9}, blob[1:]...)
	_, _, err = DecodeFile(key, bad)
	assert.ErrorIs(t, err, fault.ErrDecryption)
}
