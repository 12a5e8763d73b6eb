package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the key length required for AES-256.
const KeySize = 32

// Encryptor seals and opens provider credentials with AES-256-GCM.
// Ciphertexts are self-contained: the nonce is prepended and the whole
// blob is base64-encoded for storage in a TEXT column.
type Encryptor struct {
	aead cipher.AEAD
}

// GenerateKey returns a fresh random key, base64-encoded for storage.
func GenerateKey() (string, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generating encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// New creates an Encryptor from a base64-encoded key. A raw 32-byte
// string is also accepted so tests can use fixed keys.
func New(key string) (*Encryptor, error) {
	if key == "" {
		return nil, errors.New("encryption key is empty")
	}

	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		if len(key) != KeySize {
			return nil, fmt.Errorf("decoding encryption key: %w", err)
		}
		raw = []byte(key)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeySize, len(raw))
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt seals plaintext and returns a base64-encoded ciphertext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64-encoded ciphertext produced by Encrypt.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]

	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
