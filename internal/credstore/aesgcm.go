// Package credstore decrypts the ciphertext fields on a models.Credential
// into plaintext for the span of a single handler invocation. Nothing in
// this package persists or logs plaintext; callers must discard the
// decrypted value once the device operation completes.
package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrShortCiphertext is returned when ciphertext is smaller than the GCM
// nonce it must be prefixed with.
var ErrShortCiphertext = errors.New("ciphertext shorter than nonce size")

// Box wraps a single process-wide AES-GCM key (SecurityConfig.CredentialKeyHex),
// 16/24/32 bytes selecting AES-128/192/256.
type Box struct {
	gcm cipher.AEAD
}

// New builds a Box from a raw AES key.
func New(key []byte) (*Box, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes key: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Box{gcm: gcm}, nil
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, b.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return b.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a nonce||ciphertext||tag blob produced by Seal. A nil or
// empty input (an unset credential field) decrypts to nil with no error.
func (b *Box) Open(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	nonceSize := b.gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, ErrShortCiphertext
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return b.gcm.Open(nil, nonce, ciphertext, nil)
}
