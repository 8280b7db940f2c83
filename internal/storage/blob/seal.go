package blob

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealHeader prefixes every encrypted object, followed by the nonce and the
// AES-GCM ciphertext. The header is also the additional authenticated data.
var sealHeader = []byte("CEV1")

type sealer struct {
	aead cipher.AEAD
}

func newSealer(rawKey string) (*sealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rawKey))
	if err != nil {
		return nil, fmt.Errorf("archive.encryption_key must be base64: %w", err)
	}
	if n := len(key); n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("archive.encryption_key must decode to 16, 24 or 32 bytes, got %d", n)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(plain []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	out := make([]byte, len(sealHeader)+nonceSize, len(sealHeader)+nonceSize+len(plain)+s.aead.Overhead())
	copy(out, sealHeader)
	nonce := out[len(sealHeader):]
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(out, nonce, plain, sealHeader), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	body := data[len(sealHeader):]
	nonceSize := s.aead.NonceSize()
	if len(body) < nonceSize {
		return nil, errors.New("sealed object truncated")
	}
	return s.aead.Open(nil, body[:nonceSize], body[nonceSize:], sealHeader)
}

func isSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealHeader)
}
