package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"scene-sync/internal/models"
)

// File blobs are laid out as
//
//	[1 byte format][12 byte iv][AES-GCM ciphertext]
//
// and the plaintext inside is
//
//	[4 byte big-endian metadata length][metadata JSON][zlib compressed data]
const fileFormatV1 byte = 1

// maxMetadataBytes bounds the metadata header of a decoded file
const maxMetadataBytes = 64 * 1024

// EncodeFile compresses and encrypts a file payload for the bucket
func EncodeFile(key string, data []byte, metadata models.FileMetadata) ([]byte, error) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode file metadata: %w", err)
	}

	var plain bytes.Buffer
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(meta)))
	plain.Write(size[:])
	plain.Write(meta)

	zw := zlib.NewWriter(&plain)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress file: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress file: %w", err)
	}

	ciphertext, iv, err := EncryptData(key, plain.Bytes())
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, 1+len(iv)+len(ciphertext))
	out = append(out, fileFormatV1)
	out = append(out, iv...)
	out = append(out, ciphertext...)
	return out, nil
}

// DecodeFile reverses EncodeFile
func DecodeFile(key string, blob []byte) ([]byte, models.FileMetadata, error) {
	var metadata models.FileMetadata

	if len(blob) < 1+IVBytes || blob[0] != fileFormatV1 {
		return nil, metadata, &DecryptionError{Err: fmt.Errorf("unrecognized file encoding")}
	}
	iv := blob[1 : 1+IVBytes]
	plain, err := DecryptData(iv, blob[1+IVBytes:], key)
	if err != nil {
		return nil, metadata, err
	}

	if len(plain) < 4 {
		return nil, metadata, fmt.Errorf("file payload too short")
	}
	metaLen := binary.BigEndian.Uint32(plain[:4])
	if metaLen > maxMetadataBytes || int(metaLen) > len(plain)-4 {
		return nil, metadata, fmt.Errorf("file metadata length %d out of range", metaLen)
	}
	if err := json.Unmarshal(plain[4:4+metaLen], &metadata); err != nil {
		return nil, metadata, fmt.Errorf("failed to decode file metadata: %w", err)
	}

	zr, err := zlib.NewReader(bytes.NewReader(plain[4+metaLen:]))
	if err != nil {
		return nil, metadata, fmt.Errorf("failed to decompress file: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, metadata, fmt.Errorf("failed to decompress file: %w", err)
	}
	return data, metadata, nil
}
