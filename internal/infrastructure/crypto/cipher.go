// Package crypto seals raw scan text and provider payloads at rest.
package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	keyInfo = "fiscal-receipt-ingest/raw-payload/v1"
	version = byte(1)
)

var ErrCiphertextTooShort = errors.New("ciphertext too short")

// AEADCipher encrypts with XChaCha20-Poly1305. Output is version || nonce || ciphertext.
type AEADCipher struct {
	aead cipher.AEAD
}

// NewAEADCipher derives the data key from secret with HKDF-SHA256.
func NewAEADCipher(secret, salt []byte) (*AEADCipher, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("encryption secret must be at least 16 bytes, got %d", len(secret))
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	return &AEADCipher{aead: aead}, nil
}

func (c *AEADCipher) Encrypt(plaintext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+c.aead.Overhead())
	out[0] = version
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(out, out[1:], plaintext, []byte{version}), nil
}

func (c *AEADCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	nonceSize := c.aead.NonceSize()
	if len(ciphertext) < 1+nonceSize+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	if ciphertext[0] != version {
		return nil, fmt.Errorf("unsupported ciphertext version %d", ciphertext[0])
	}
	nonce := ciphertext[1 : 1+nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext[1+nonceSize:], []byte{version})
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", err)
	}
	return plaintext, nil
}
