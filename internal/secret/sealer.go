// Package secret seals CMS application passwords before they are stored.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Sealer encrypts and decrypts single values.
type Sealer interface {
	Seal(value string) (string, error)
	Open(sealed string) (string, error)
}

var (
	_ Sealer = (*AESGCMSealer)(nil)
	_ Sealer = Plain{}
)

// AESGCMSealer seals values with AES-GCM. The stored payload is
// base64(nonce || ciphertext).
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer builds a sealer from a raw 16, 24 or 32 byte key.
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secret: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secret: new gcm: %w", err)
	}
	return &AESGCMSealer{aead: aead}, nil
}

// FromConfig builds a sealer from a hex or base64 encoded key. An empty key
// yields Plain.
func FromConfig(encoded string) (Sealer, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Plain{}, nil
	}
	if key, err := hex.DecodeString(encoded); err == nil {
		return NewAESGCMSealer(key)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("secret: key must be hex or base64 encoded")
	}
	return NewAESGCMSealer(key)
}

// Seal encrypts value with a fresh random nonce.
func (s *AESGCMSealer) Seal(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secret: read nonce: %w", err)
	}
	payload := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Open decrypts a value produced by Seal.
func (s *AESGCMSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("secret: decode sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(payload) < n {
		return "", fmt.Errorf("secret: sealed value is too short")
	}
	plain, err := s.aead.Open(nil, payload[:n], payload[n:], nil)
	if err != nil {
		return "", fmt.Errorf("secret: decrypt sealed value: %w", err)
	}
	return string(plain), nil
}

// Plain stores values unchanged. Used when no sealing key is configured.
type Plain struct{}

func (Plain) Seal(value string) (string, error)  { return value, nil }
func (Plain) Open(sealed string) (string, error) { return sealed, nil }
