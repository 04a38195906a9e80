package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/dataflowhq/control-plane/internal/models"
)

const (
	aesKeySize   = 32
	gcmNonceSize = 12
	gcmTagSize   = 16
)

var ErrInvalidKeySize = errors.New("encryption key must be exactly 32 bytes for AES-256")

// sealer wraps AES-256-GCM for credential secrets. Key material is
// process-wide immutable state loaded at startup.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != aesKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns (ciphertext, iv, tag) as separately
// persisted parts.
func (s *sealer) Seal(plaintext []byte) (ciphertext, iv, tag []byte, err error) {
	iv = make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := s.aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - gcmTagSize
	return sealed[:split], iv, sealed[split:], nil
}

// Open authenticates and decrypts. Tampering with any of the three parts
// yields ErrDecryptionFailed; the error never carries ciphertext.
func (s *sealer) Open(ciphertext, iv, tag []byte) ([]byte, error) {
	if len(iv) != gcmNonceSize || len(tag) != gcmTagSize {
		return nil, models.ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := s.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, models.ErrDecryptionFailed
	}

	return plaintext, nil
}
